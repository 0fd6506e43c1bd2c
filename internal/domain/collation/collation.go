// Пакет collation — сравнение строк без учёта регистра по правилам
// Unicode Collation Algorithm (локаль en, уровень 2).
// Семантика совпадает с недетерминированной ICU-коллацией
// case_insensitive (en-u-ks-level2) в PostgreSQL: регистр игнорируется,
// диакритика учитывается.
package collation

import (
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Collator из x/text не безопасен для конкурентного использования.
var (
	mu   sync.Mutex
	coll = collate.New(language.English, collate.IgnoreCase)
	buf  collate.Buffer
)

// Normalize приводит строку к NFC и обрезает пробелы по краям.
// Все отличительные поля хранятся в этой форме.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Equal сообщает, равны ли строки без учёта регистра.
func Equal(a, b string) bool {
	mu.Lock()
	defer mu.Unlock()
	return coll.CompareString(Normalize(a), Normalize(b)) == 0
}

// Key возвращает ключ сортировки строки: у равных по Equal строк
// ключи совпадают. Используется как ключ уникального индекса
// in-memory хранилища.
func Key(s string) string {
	mu.Lock()
	defer mu.Unlock()
	defer buf.Reset()
	return hex.EncodeToString(coll.KeyFromString(&buf, Normalize(s)))
}
