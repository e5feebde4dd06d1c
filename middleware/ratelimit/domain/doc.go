// Package domain define contratos e tipos de domínio do rate limit por janela
// deslizante: consultas, decisões, configuração de regra e faixas CIDR.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Tanto o coordenador em memória (infra) quanto o transporte entre processos
// (cluster) implementam o mesmo contrato Evaluator, o que permite trocar a
// topologia sem tocar na camada HTTP.
package domain
