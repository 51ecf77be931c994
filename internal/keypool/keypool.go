package keypool

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

// Pool хранит набор учетных данных одной внешней способности (текст,
// изображения, озвучка) и ротацию по ним. Все мутации — под одним мьютексом;
// чтение счетчиков вне критической секции не допускается.
type Pool struct {
	mu     sync.Mutex
	keys   []string
	usage  []int
	cursor int
}

// New создает пул, отфильтровывая пустые ключи. Пустой итоговый набор —
// фатальная ошибка конфигурации, поднимаемая сразу, а не при первом вызове.
func New(keys []string) (*Pool, error) {
	filtered := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k) != "" {
			filtered = append(filtered, k)
		}
	}
	if len(filtered) == 0 {
		return nil, errors.New("key pool initialized with no keys")
	}
	return &Pool{
		keys:  filtered,
		usage: make([]int, len(filtered)),
	}, nil
}

// Next продвигает курсор по кругу, инкрементирует счетчик использования
// выбранного ключа и возвращает его.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cursor = (p.cursor + 1) % len(p.keys)
	p.usage[p.cursor]++
	return p.keys[p.cursor]
}

// LeastUsed возвращает ключ с минимальным счетчиком использования
// (при равенстве — первый по порядку) и инкрементирует его счетчик.
// Используется для первого вызова последовательности, чтобы размазать
// начальную нагрузку; дальше последовательность идет через Next.
func (p *Pool) LeastUsed() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	minIdx := 0
	for i := 1; i < len(p.keys); i++ {
		if p.usage[i] < p.usage[minIdx] {
			minIdx = i
		}
	}
	p.usage[minIdx]++
	return p.keys[minIdx]
}

// Size возвращает количество ключей в пуле.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// UsageSnapshot возвращает копию счетчиков использования (для тестов и логов).
func (p *Pool) UsageSnapshot() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.usage))
	copy(out, p.usage)
	return out
}

var envIndexRe = regexp.MustCompile(`_(\d+)$`)

// FromEnv собирает пул из всех переменных окружения с данным префиксом
// (например GOOGLE_API_KEY, GOOGLE_API_KEY_2, ...), упорядочивая их по
// числовому суффиксу; переменная без суффикса считается первой.
func FromEnv(prefix string) (*Pool, error) {
	type indexedKey struct {
		index int
		value string
	}
	var found []indexedKey

	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		if name == prefix {
			found = append(found, indexedKey{index: 1, value: value})
			continue
		}
		m := envIndexRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, indexedKey{index: idx, value: value})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].index < found[j].index })

	keys := make([]string, 0, len(found))
	for _, k := range found {
		keys = append(keys, k.value)
	}

	pool, err := New(keys)
	if err != nil {
		return nil, fmt.Errorf("no usable keys for prefix %s: %w", prefix, err)
	}
	log.Info().Str("prefix", prefix).Int("keys", len(keys)).Msg("Key pool initialized")
	return pool, nil
}
