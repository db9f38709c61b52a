package registry

import "sync/atomic"

var defaultReg atomic.Pointer[Registry]

// Init создаёт общий реестр процесса. Вызывается один раз из main до
// загрузки pipelines; повторный вызов возвращает тот же реестр.
func Init() *Registry {
	defaultReg.CompareAndSwap(nil, New())
	return defaultReg.Load()
}

// Default возвращает общий реестр процесса.
//
// Паникует, если Init ещё не вызывался. Тесты должны создавать
// собственные реестры через New.
func Default() *Registry {
	r := defaultReg.Load()
	if r == nil {
		panic("registry: Default called before Init")
	}
	return r
}
