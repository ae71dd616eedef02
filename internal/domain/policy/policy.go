// Пакет policy — правила доступа к файлам.
package policy

// CanRetrieve определяет, доступен ли файл для скачивания.
// Публичные файлы доступны всем, приватные — только аутентифицированным
// запросам. Отказ в доступе наружу выглядит как отсутствие файла,
// чтобы не раскрывать существование приватных записей.
func CanRetrieve(isPrivate, authenticated bool) bool {
	return !isPrivate || authenticated
}
