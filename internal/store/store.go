// Package store реализует файловое key-value хранилище с опциональной
// обфускацией значений.
//
// ВАЖНО: обфускация здесь — XOR с ключевым потоком, то есть защита от
// случайного просмотра файла, а НЕ криптография. Она не даёт ни
// конфиденциальности, ни целостности; для реальной защиты данных нужен
// аутентифицированный шифр, которого это хранилище сознательно не обещает.
package store

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// entry — сериализованное значение одного ключа в файле хранилища.
type entry struct {
	Obfuscated bool   `json:"obfuscated"`
	Value      string `json:"value"`
}

// Store — файловое key-value хранилище. Все операции сериализуются
// мьютексом; каждая запись сохраняет файл целиком через временный файл
// и атомарное переименование.
type Store struct {
	mu     sync.Mutex
	path   string
	keybuf []byte
	data   map[string]entry
}

// Option настраивает отдельную операцию записи.
type Option func(*writeOptions)

type writeOptions struct {
	obfuscated bool
}

// Obfuscated включает обфускацию значения перед записью.
func Obfuscated() Option {
	return func(o *writeOptions) {
		o.obfuscated = true
	}
}

// New открывает хранилище в указанном файле. Повреждённый или
// отсутствующий файл не считается ошибкой: хранилище деградирует до
// пустого, чтобы испорченные данные не роняли приложение.
func New(path, secret string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	key := sha256.Sum256([]byte(secret))

	s := &Store{
		path:   path,
		keybuf: key[:],
		data:   make(map[string]entry),
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var loaded map[string]entry
		if jsonErr := json.Unmarshal(raw, &loaded); jsonErr == nil {
			s.data = loaded
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("store: read file: %w", err)
	}

	return s, nil
}

// Set сохраняет JSON-сериализуемое значение под ключом.
func (s *Store) Set(key string, value any, opts ...Option) error {
	var wo writeOptions
	for _, o := range opts {
		o(&wo)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %q: %w", key, err)
	}

	e := entry{Value: string(raw)}
	if wo.obfuscated {
		e.Obfuscated = true
		e.Value = base64.StdEncoding.EncodeToString(s.xor(raw))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = e
	return s.flush()
}

// Get читает значение ключа в dst и сообщает, было ли оно найдено.
// Повреждённое значение считается отсутствующим: вызывающий получает
// свой default вместо ошибки разбора.
func (s *Store) Get(key string, dst any) (bool, error) {
	s.mu.Lock()
	e, ok := s.data[key]
	s.mu.Unlock()

	if !ok {
		return false, nil
	}

	raw := []byte(e.Value)
	if e.Obfuscated {
		decoded, err := base64.StdEncoding.DecodeString(e.Value)
		if err != nil {
			return false, nil
		}
		raw = s.xor(decoded)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return false, nil
	}
	return true, nil
}

// Remove удаляет ключ из хранилища.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flush()
}

// flush пишет всё содержимое в файл. Вызывается под мьютексом.
func (s *Store) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// xor накладывает ключевой поток на данные; операция обратима повторным
// применением. Это и есть вся «обфускация».
func (s *Store) xor(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ s.keybuf[i%len(s.keybuf)]
	}
	return out
}
