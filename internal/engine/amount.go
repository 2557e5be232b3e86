package engine

import (
	"math/big"
	"strings"

	xerrors "OpenTrade-Bot/internal/errors"
)

const maxFractionDigits = 18

// NormalizeAmount 清理用户输入的金额文本。以小数点开头的输入
// 补一个前导零，".5" 与 "0.5" 行为一致。
func NormalizeAmount(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, ".") {
		cleaned = "0" + cleaned
	}
	return cleaned
}

// ParseAmount 把人类可读的十进制金额换算为代币最小单位整数。
// 要求金额为正、小数位不超过 18 且不超过代币精度。超出代币精度
// 的输入直接拒绝而不是四舍五入，让用户改写后重发。
func ParseAmount(raw string, decimals uint8) (*big.Int, error) {
	cleaned := NormalizeAmount(raw)
	if cleaned == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "金额不能为空")
	}

	intPart := cleaned
	fracPart := ""
	if dot := strings.IndexByte(cleaned, '.'); dot >= 0 {
		intPart = cleaned[:dot]
		fracPart = cleaned[dot+1:]
		if strings.IndexByte(fracPart, '.') >= 0 {
			return nil, xerrors.New(xerrors.CodeValidation, "金额格式不正确")
		}
	}
	if intPart == "" || !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return nil, xerrors.New(xerrors.CodeValidation, "金额必须是十进制数字")
	}
	if len(fracPart) > maxFractionDigits {
		return nil, xerrors.New(xerrors.CodeValidation, "金额小数位最多 18 位")
	}
	if len(fracPart) > int(decimals) {
		return nil, xerrors.New(xerrors.CodeValidation, "金额小数位超过代币精度")
	}

	// 拼出 intPart + fracPart 补零到 decimals 位，即 round(h * 10^decimals)。
	padded := intPart + fracPart + strings.Repeat("0", int(decimals)-len(fracPart))
	amount, ok := new(big.Int).SetString(padded, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeValidation, "金额格式不正确")
	}
	if amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "金额必须大于零")
	}
	return amount, nil
}

// FormatAmount 把最小单位整数格式化为人类可读的十进制串，
// 去掉多余的尾零。仅用于展示，绝不回写存储。
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	text := amount.String()
	if decimals == 0 {
		return text
	}
	negative := strings.HasPrefix(text, "-")
	if negative {
		text = text[1:]
	}
	if len(text) <= int(decimals) {
		text = strings.Repeat("0", int(decimals)-len(text)+1) + text
	}
	cut := len(text) - int(decimals)
	intPart := text[:cut]
	fracPart := strings.TrimRight(text[cut:], "0")

	result := intPart
	if fracPart != "" {
		result += "." + fracPart
	}
	if negative {
		result = "-" + result
	}
	return result
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
