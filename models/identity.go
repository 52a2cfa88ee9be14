package models

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeIdentity 规范化调用者身份
// 钱包地址统一为小写0x形式，保证校验和地址与小写地址视为同一身份；其他身份只去除首尾空白
func NormalizeIdentity(id string) string {
	id = strings.TrimSpace(id)
	if common.IsHexAddress(id) {
		return strings.ToLower(common.HexToAddress(id).Hex())
	}
	return id
}

// IsWalletAddress 判断身份是否为合法的钱包地址
func IsWalletAddress(id string) bool {
	return common.IsHexAddress(strings.TrimSpace(id))
}
