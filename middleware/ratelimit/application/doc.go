// Package application contém os casos de uso do rate limit.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(ctx, req) monta a Query (id, ip, method, path, timestamp,
// configuração da regra), consulta o Evaluator e aplica a política de falha.
package application
