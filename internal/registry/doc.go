// Package registry хранит зарегистрированные pipelines.
//
// Pipeline проверяется целиком при регистрации: уникальность ID
// pipeline, tasks и triggers, корректность расписаний и схемы
// параметров. После Seal реестр неизменяем и читается без блокировок.
//
// Структура:
//   - registry.go — Registry (Register, Get, List, Seal)
//   - default.go  — общий реестр процесса
//   - errors.go   — RegistrationError и ошибки
package registry
