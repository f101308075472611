// code.go — генератор шестизначных кодов трансферов.
package registry

import (
	"math/rand"
	"strconv"
)

const (
	// codeMin — нижняя граница диапазона кодов (ведущий ноль исключён)
	codeMin = 100000
	// codeSpan — размер диапазона: коды 100000..999999
	codeSpan = 900000
)

// generateCode равномерно выбирает код из диапазона 100000–999999 и
// перевыбирает, пока isLive возвращает true для кандидата.
//
// Пространство в 900 000 кодов на порядки больше возможного числа
// одновременно живых трансферов (оно ограничено квотами на размер),
// поэтому длинные серии коллизий практически исключены и отдельной
// защиты от них нет.
func generateCode(isLive func(code string) bool) string {
	for {
		code := strconv.Itoa(codeMin + rand.Intn(codeSpan))
		if !isLive(code) {
			return code
		}
	}
}
