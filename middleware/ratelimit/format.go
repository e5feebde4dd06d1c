// utilitário pequeno para formatação de valores em headers e na mensagem de 429.

package ratelimit

import (
	"math"
	"strconv"
	"time"
)

const resetLayout = "2006-01-02T15:04:05.000Z07:00"

func formatInt(v int) string { return strconv.Itoa(v) }

func formatReset(t time.Time) string { return t.UTC().Format(resetLayout) }

// retryAfterSeconds arredonda para cima; Retry-After não aceita fração.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// formatWait escreve a espera em segundos, minutos ou horas, trocando de
// unidade quando o valor passa de 60.
func formatWait(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	v := d.Seconds()
	unit := "second(s)"
	if v >= 60 {
		v /= 60
		unit = "minute(s)"
	}
	if v >= 60 {
		v /= 60
		unit = "hour(s)"
	}
	return strconv.FormatFloat(math.Round(v), 'f', 0, 64) + " " + unit
}
