// Пакет model — доменные модели File Relay.
// Transfer — пакет файлов с общим кодом и единым сроком жизни,
// FileRecord — один загруженный файл в составе трансфера.
package model

import (
	"time"
)

// FileRecord — метаданные одного загруженного файла.
type FileRecord struct {
	// ID — внешний идентификатор файла (UUID v4), выдаётся при
	// загрузке и используется для скачивания отдельного файла
	ID string

	// DisplayName — имя файла, переданное клиентом. Используется
	// только в ответах API и как имя записи в архиве. Никогда не
	// участвует в построении путей на диске.
	DisplayName string

	// StorageKey — имя блоба на диске, генерируется сервером.
	// Единственный способ адресации файла в blobstore.
	StorageKey string

	// Size — размер файла в байтах (фактически записанный объём)
	Size int64

	// ContentType — MIME-тип, указанный клиентом
	ContentType string
}

// Transfer — пакет файлов, переданный одним запросом загрузки.
// Запись живёт в реестре от создания до purge; состояния
// "истёк, но присутствует" не существует: просроченная запись
// удаляется при первом же обращении.
type Transfer struct {
	// Code — шестизначный цифровой код трансфера
	Code string

	// Files — файлы трансфера в порядке загрузки (1..MaxFiles)
	Files []FileRecord

	// CreatedAt — время создания (UTC)
	CreatedAt time.Time

	// ExpiresAt — дедлайн автоматического удаления (CreatedAt + TTL).
	// Неизменяем после создания, скачивания срок не продлевают.
	ExpiresAt time.Time
}

// IsExpired проверяет, истёк ли срок жизни трансфера.
func (t *Transfer) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TotalSize возвращает суммарный размер файлов трансфера в байтах.
func (t *Transfer) TotalSize() int64 {
	var total int64
	for i := range t.Files {
		total += t.Files[i].Size
	}
	return total
}

// FindFile возвращает файл трансфера по идентификатору.
func (t *Transfer) FindFile(fileID string) (*FileRecord, bool) {
	for i := range t.Files {
		if t.Files[i].ID == fileID {
			return &t.Files[i], true
		}
	}
	return nil, false
}

// RemainingTime возвращает оставшееся время жизни трансфера.
// Для просроченного трансфера возвращает 0.
func (t *Transfer) RemainingTime(now time.Time) time.Duration {
	d := t.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
