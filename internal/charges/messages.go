package charges

import "strings"

// DefaultUserMessage is shown when the provider code is missing or unknown.
const DefaultUserMessage = "Error al procesar el pago. Intente nuevamente"

var userMessages = map[string]string{
	"insufficient_funds":    "Pago rechazado: Fondos insuficientes",
	"card_declined":         "Pago rechazado: Tarjeta declinada",
	"expired_card":          "Pago rechazado: Tarjeta expirada",
	"invalid_pin":           "PIN incorrecto",
	"timeout":               "Tiempo de espera agotado. Por favor, intente nuevamente",
	"terminal_offline":      "Terminal desconectado. Verifique la conexión",
	"terminal_busy":         "Terminal ocupado. Por favor espere",
	"duplicate_transaction": "Transacción duplicada",
	"amount_limit_exceeded": "Monto excede el límite permitido",
	"security_violation":    "Fallo de seguridad. Contacte a su banco",
	"issuer_unavailable":    "Banco no disponible. Intente más tarde",
}

// UserMessage returns the cashier-facing text for a provider error code.
func UserMessage(code string) string {
	if msg, ok := userMessages[strings.ToLower(strings.TrimSpace(code))]; ok {
		return msg
	}
	return DefaultUserMessage
}
