package bold

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
)

const (
	msgNetwork         = "Error de conexión con servicio de pago"
	msgGenericGateway  = "Error al procesar el pago"
	msgAuthFailed      = "Error de autenticación con servicio de pago"
	msgInvalidRequest  = "Solicitud inválida. Verifique los datos"
	msgForbidden       = "Operación no permitida"
	msgTerminalMissing = "Terminal no encontrado"
	msgDuplicate       = "Transacción duplicada"
	msgUnavailable     = "Servicio de pago temporalmente no disponible"
)

// HTTPError is a non-2xx answer from the gateway.
type HTTPError struct {
	StatusCode      int
	ProviderCode    string
	ProviderMessage string
	Body            json.RawMessage
}

func (e *HTTPError) Error() string {
	if e.ProviderMessage != "" {
		return fmt.Sprintf("bold: status %d: %s", e.StatusCode, e.ProviderMessage)
	}
	return fmt.Sprintf("bold: status %d", e.StatusCode)
}

// UserMessage is the cashier-facing text for the failure.
func (e *HTTPError) UserMessage() string {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return msgInvalidRequest
	case http.StatusUnauthorized:
		return msgAuthFailed
	case http.StatusForbidden:
		return msgForbidden
	case http.StatusNotFound:
		return msgTerminalMissing
	case http.StatusConflict:
		return msgDuplicate
	case http.StatusServiceUnavailable:
		return msgUnavailable
	}
	if e.ProviderMessage != "" {
		return e.ProviderMessage
	}
	return msgGenericGateway
}

func (e *HTTPError) code() pkgerrors.Code {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return pkgerrors.CodeValidation
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	}
	return pkgerrors.CodeDependency
}

func newHTTPError(status int, body []byte) error {
	httpErr := &HTTPError{StatusCode: status}
	if len(body) > 0 && json.Valid(body) {
		httpErr.Body = json.RawMessage(body)
		var parsed struct {
			Message string `json:"message"`
			Code    string `json:"code"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil {
			httpErr.ProviderMessage = strings.TrimSpace(parsed.Message)
			httpErr.ProviderCode = strings.TrimSpace(parsed.Code)
			if httpErr.ProviderCode == "" {
				httpErr.ProviderCode = strings.TrimSpace(parsed.Error)
			}
		}
	}
	return pkgerrors.Wrap(httpErr.code(), httpErr, httpErr.UserMessage())
}

// networkError covers transport failures, including failed token fetches.
func networkError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msgAuthFailed)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msgNetwork)
}

// UserMessage extracts the cashier-facing text from a gateway error.
func UserMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil && typed.Message() != "" {
		return typed.Message()
	}
	return msgGenericGateway
}

// AsHTTPError exposes the gateway response behind err, if any.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
