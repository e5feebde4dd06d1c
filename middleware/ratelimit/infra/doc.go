// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - Coordinator: dono único do Registry de regras e dos contadores por cliente;
//     toda mutação passa por Evaluate (ou pela expiração agendada), sob o mesmo lock
//   - Registry/Rule/ClientCounter: regras por (method, path) e janelas por IP
//   - MemoryStatsStore/RedisStatsStore: estatísticas das decisões aplicadas
//   - ChanPool: semáforo simples para limitar consultas em voo
package infra
