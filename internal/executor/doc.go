// Package executor выполняет runs: tasks pipeline по очереди, с захватом
// логов и результатов каждого task.
//
// Жизненный цикл run:
//
//	pending → running → completed
//	                  ↘ failed (task вернул ошибку, запаниковал или истёк его таймаут)
//
// Всё, что пишет task через TaskContext.Logger, попадает в лог run.
// Результат task сериализуется в JSON и сохраняется как артефакт.
//
// Структура:
//   - executor.go — Execute, Reject, выполнение task и финализация
//   - capture.go  — slog.Handler для захвата логов task
package executor
