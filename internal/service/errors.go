// errors.go — ошибки бизнес-логики сервисного слоя.
// Каждый вид ошибки устойчив: API-слой выбирает HTTP-статус через errors.Is.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — некорректные входные данные: нет обязательного
	// вложения, некорректный id, нарушение схемы коллекции.
	ErrValidation = errors.New("ошибка валидации")
	// ErrDuplicate — нарушение уникальности отличительного поля.
	ErrDuplicate = errors.New("дубликат — запись с таким именем уже существует")
	// ErrNotFound — запись не найдена или исчезла во время операции.
	ErrNotFound = errors.New("запись не найдена")
	// ErrInfrastructure — хранилище записей или ассетов недоступно.
	// Ядро не повторяет операцию и возвращает ошибку как есть.
	ErrInfrastructure = errors.New("инфраструктурная ошибка")
	// ErrAssetStoreUnavailable — хранилище ассетов недоступно.
	// Является частным случаем ErrInfrastructure.
	ErrAssetStoreUnavailable = fmt.Errorf("%w: хранилище ассетов недоступно", ErrInfrastructure)
	// ErrUnknownCollection — коллекция не зарегистрирована.
	ErrUnknownCollection = errors.New("неизвестная коллекция")
	// ErrUnauthorized — неверные учётные данные или недействительный токен.
	ErrUnauthorized = errors.New("не авторизован")
	// ErrTokenRevoked — токен отозван (logout).
	ErrTokenRevoked = errors.New("токен отозван")
)
