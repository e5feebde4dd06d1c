package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Upstream de teste para o gateway: responde qualquer rota e mostra o IP que
// o gateway repassou, para conferir o X-Forwarded-For na validação manual.
func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("svc", "servidor-burrao").Logger()

	r := chi.NewRouter()
	r.Get("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		log.Info().Str("remote", r.RemoteAddr).Str("xff", r.Header.Get("X-Forwarded-For")).Msg("acesso em /showTela")
	})
	r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s %s via %s\n", r.Method, r.URL.Path, r.Header.Get("X-Forwarded-For"))
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	log.Info().Str("addr", addr).Msg("servidor rodando")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("erro ao subir o servidor")
	}
}
