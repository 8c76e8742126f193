package nlp

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var arithmeticRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([+\-*/x÷×])\s*(\d+(?:\.\d+)?)`)

// DivisionByZeroReply is returned for "n / 0".
const DivisionByZeroReply = "Can't divide by zero, not even me! 🚫"

// SolveArithmetic evaluates the first "<number> <op> <number>" expression in
// text. x and × multiply, ÷ divides. The second return value is false when
// text contains no expression.
func SolveArithmetic(text string) (string, bool) {
	m := arithmeticRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	a, errA := strconv.ParseFloat(m[1], 64)
	b, errB := strconv.ParseFloat(m[3], 64)
	if errA != nil || errB != nil {
		return "", false
	}

	op := m[2]
	var result float64
	switch op {
	case "+":
		result = a + b
	case "-":
		result = a - b
	case "*", "x", "×":
		result = a * b
	case "/", "÷":
		if b == 0 {
			return DivisionByZeroReply, true
		}
		result = a / b
	}

	if result == math.Trunc(result) {
		return fmt.Sprintf("Easy: %s %s %s = %s 😎", formatNumber(a), op, formatNumber(b), formatNumber(result)), true
	}
	return fmt.Sprintf("That's an easy one: %s %s %s = %s 🤓", formatNumber(a), op, formatNumber(b), formatNumber(result)), true
}

// formatNumber prints whole values without a fractional part and everything
// else in the shortest decimal form, after rounding away binary noise such as
// 0.1 + 0.2 = 0.30000000000000004.
func formatNumber(f float64) string {
	if math.Abs(f) < 1e9 {
		f = math.Round(f*1e9) / 1e9
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
