package token

import "escrow_trade_service/pkg/config"

// 測試時覆蓋
var (
	GenerateJWTFunc = GenerateJWT
	ParseJWTFunc    = ParseJWT
)

// GenerateJWTWrapper 讓 member usecase test mock 使用
func GenerateJWTWrapper(userID, role string) (string, error) {
	return GenerateJWTFunc(userID, role, config.EnvConfig.EscrowService)
}

// ParseJWTWrapper 讓 member usecase test mock 使用
func ParseJWTWrapper(t string) (*Claims, error) {
	return ParseJWTFunc(t)
}
