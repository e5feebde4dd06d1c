// Package ratelimit fornece adapters HTTP (net/http e gin) para o rate limit por
// janela deslizante com whitelist/blacklist CIDR.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: caso de uso (monta a consulta, timeout, fail-open/fail-closed)
//   - infra: Coordinator (dono único das regras e contadores), stats, semáforo
//   - cluster: owner/delegate para compartilhar um Coordinator entre processos
//   - ratelimit (este pacote): middlewares HTTP + extração do IP + tradução para status/headers
//
// Fluxo por requisição:
//
//  1. Extrai o IP do cliente (RemoteAddr ou X-Forwarded-For, se confiável)
//  2. Chama a camada application, que consulta o Evaluator (local ou delegate)
//  3. whitelisted: segue; blacklisted: 403; acima do limite: 429 com tempo de espera
//  4. Permitido: adiciona X-RateLimit-Limit/Remaining/Reset e chama o próximo handler
//
// A configuração da regra (Max, Interval, listas) é aplicada apenas quando a
// regra para (method, path) é criada; a primeira configuração vence.
package ratelimit
