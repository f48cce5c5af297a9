package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

const signatureHeader = "X-Signature"

// WebhookMiddleware проверяет подлинность уведомлений процессинга по HMAC-подписи
// тела запроса. Ядро сверки получает уже аутентифицированные параметры.
type WebhookMiddleware struct {
	secretKey []byte
}

// NewWebhookMiddleware создаёт новый экземпляр WebhookMiddleware с указанным секретным ключом.
func NewWebhookMiddleware(secret string) *WebhookMiddleware {
	return &WebhookMiddleware{secretKey: []byte(secret)}
}

// Middleware сверяет заголовок X-Signature с HMAC-SHA256 от тела запроса.
// Тело восстанавливается для последующих обработчиков.
func (m *WebhookMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.secretKey) == 0 {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		signature := r.Header.Get(signatureHeader)
		if signature == "" || !m.verify(body, signature) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Sign возвращает подпись тела запроса. Используется в тестах и для отладки интеграций.
func (m *WebhookMiddleware) Sign(body []byte) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *WebhookMiddleware) verify(body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}
