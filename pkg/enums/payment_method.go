package enums

// PaymentMethod describes how a ticket transaction was settled.
type PaymentMethod string

const (
	PaymentMethodTerminal PaymentMethod = "terminal"
	PaymentMethodCash     PaymentMethod = "cash"
)

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}
