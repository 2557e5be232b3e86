package chain

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ERC-20 方法选择器，避免为四个只读方法引入完整 ABI 绑定。
var (
	selectorSymbol    = []byte{0x95, 0xd8, 0x9b, 0x41} // symbol()
	selectorDecimals  = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
	selectorBalanceOf = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	selectorAllowance = []byte{0xdd, 0x62, 0xed, 0x3e} // allowance(address,address)
	selectorApprove   = []byte{0x09, 0x5e, 0xa7, 0xb3} // approve(address,uint256)
	selectorTransfer  = []byte{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
)

// packCall 将选择器与左填充到 32 字节的参数拼成 calldata。
func packCall(selector []byte, args ...[]byte) []byte {
	data := make([]byte, 0, 4+32*len(args))
	data = append(data, selector...)
	for _, arg := range args {
		data = append(data, common.LeftPadBytes(arg, 32)...)
	}
	return data
}

// BuildApproveData 构建 approve(spender, amount) 的 calldata。
func BuildApproveData(spender string, amount *big.Int) []byte {
	return packCall(selectorApprove,
		common.HexToAddress(spender).Bytes(),
		amount.Bytes())
}

// BuildTransferData 构建 transfer(to, amount) 的 calldata。
func BuildTransferData(to string, amount *big.Int) []byte {
	return packCall(selectorTransfer,
		common.HexToAddress(to).Bytes(),
		amount.Bytes())
}

// decodeABIString 解析合约返回的字符串。兼容标准动态编码
// 与早期代币使用的 bytes32 定长编码。
func decodeABIString(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("返回数据为空")
	}
	if len(raw) == 32 {
		return strings.TrimRight(string(raw), "\x00"), nil
	}
	if len(raw) < 64 {
		return "", errors.New("返回数据长度不足")
	}

	// 偏移与长度先同总长比较再做加法，uint64 加法会回绕。
	total := uint64(len(raw))
	offset := new(big.Int).SetBytes(raw[:32])
	if !offset.IsUint64() || offset.Uint64() > total-32 {
		return "", errors.New("字符串偏移量非法")
	}
	start := offset.Uint64()

	length := new(big.Int).SetBytes(raw[start : start+32])
	if !length.IsUint64() || length.Uint64() > total-start-32 {
		return "", errors.New("字符串长度非法")
	}
	value := raw[start+32 : start+32+length.Uint64()]
	return string(value), nil
}
