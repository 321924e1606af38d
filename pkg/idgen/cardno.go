package idgen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ============================================================================
// 礼品卡卡号生成器
// ============================================================================
//
// 【卡号结构】定长纯数字
//
//   8600 - 11位随机数 - 1位校验位
//   |      |            |
//   |      |            +-- Luhn 校验位，拦截抄错一位、相邻两位颠倒
//   |      +-- 随机段（crypto/rand）
//   +-- 固定前缀
//
// 生成器只保证格式和校验位正确，不保证唯一：唯一性由 giftcards.card_no 唯一索引兜底，
// 冲突时由发卡流程重新生成。
//
// ============================================================================

const (
	DefaultCardNoPrefix = "8600"
	DefaultCardNoLength = 16
)

var ErrInvalidCardNoFormat = errors.New("卡号格式配置不合法")

// CardNoGenerator 卡号生成器
type CardNoGenerator struct {
	prefix string
	length int
}

// NewCardNoGenerator 创建卡号生成器
// 前缀必须是纯数字，且至少给随机段留出 1 位
func NewCardNoGenerator(prefix string, length int) (*CardNoGenerator, error) {
	if !isDigits(prefix) {
		return nil, fmt.Errorf("%w: 前缀必须是数字 %q", ErrInvalidCardNoFormat, prefix)
	}
	if length < len(prefix)+2 {
		return nil, fmt.Errorf("%w: 长度 %d 过短", ErrInvalidCardNoFormat, length)
	}
	return &CardNoGenerator{prefix: prefix, length: length}, nil
}

// Length 卡号总长度
func (g *CardNoGenerator) Length() int {
	return g.length
}

// Generate 生成一个带校验位的卡号
func (g *CardNoGenerator) Generate() (string, error) {
	bodyLen := g.length - len(g.prefix) - 1

	var sb strings.Builder
	sb.Grow(g.length)
	sb.WriteString(g.prefix)

	ten := big.NewInt(10)
	for i := 0; i < bodyLen; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("生成随机数失败: %w", err)
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}

	payload := sb.String()
	return payload + string(rune('0'+LuhnDigit(payload))), nil
}

// Valid 校验卡号的前缀、长度和校验位
func (g *CardNoGenerator) Valid(cardNo string) bool {
	if len(cardNo) != g.length || !strings.HasPrefix(cardNo, g.prefix) {
		return false
	}
	return LuhnValid(cardNo)
}

// LuhnDigit 计算 payload 的 Luhn 校验位
//
// 从右往左，每隔一位乘 2（payload 最右一位要乘，因为校验位会追加在它后面），
// 乘积大于 9 时减 9（等价于各位数字相加），校验位 = (10 - sum%10) % 10
func LuhnDigit(payload string) int {
	sum := 0
	double := true
	for i := len(payload) - 1; i >= 0; i-- {
		d := int(payload[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}

// LuhnValid 校验带校验位的完整号码
func LuhnValid(number string) bool {
	if len(number) < 2 || !isDigits(number) {
		return false
	}
	payload := number[:len(number)-1]
	return int(number[len(number)-1]-'0') == LuhnDigit(payload)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
