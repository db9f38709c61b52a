// Package hub рассылает live-события runs наблюдателям (SSE, RabbitMQ relay, CLI watch).
//
// Свойства доставки:
//   - только события после подписки, без истории
//   - не более одного раза на наблюдателя
//   - при переполнении очереди наблюдателя вытесняется самое старое событие
//   - Publish не блокируется и не держит блокировок во время рассылки
//
// Использование:
//
//	sub := h.Subscribe(hub.ForRun(runID))
//	defer sub.Close()
//
//	for e := range sub.Events() {
//	    ...
//	}
package hub
