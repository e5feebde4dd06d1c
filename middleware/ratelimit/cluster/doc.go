// Package cluster liga processos delegate ao processo dono do Coordinator.
//
// Topologia: vários processos (workers) compartilham o mesmo socket de escuta
// HTTP, mas apenas um processo (o owner) mantém regras e contadores. Cada
// worker usa um Delegate, que implementa domain.Evaluator encaminhando a
// Query por um socket unix e esperando a resposta com o mesmo id.
//
// Protocolo: um Envelope JSON por linha, nos dois sentidos.
//
//	{"query":{"id":"...","ip":"1.2.3.4","method":"GET","path":"/x","timestamp":1700000000000}}
//	{"result":{"id":"...","decision":"allow","limit":10,"remaining":9,"resetAt":"2023-11-14T22:18:20.000Z"}}
//
// Não há retry: uma mensagem perdida só termina pelo timeout do Delegate.
package cluster
