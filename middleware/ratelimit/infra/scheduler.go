package infra

import "time"

// Timer é o handle de uma expiração agendada.
type Timer interface {
	Stop() bool
}

// AfterFunc agenda f para depois de d. O padrão é time.AfterFunc; os testes
// injetam um relógio manual.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
