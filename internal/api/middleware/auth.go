// auth.go — JWT middleware для аутентификации запросов.
// Использует RS256 + JWKS для валидации токенов внешнего identity provider.
// Два режима: Required (401 без валидного токена) для операций записи
// и Optional (запрос помечается неаутентифицированным) для скачивания,
// где политика доступа решается на уровне сервиса.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/methompson/met-simple-storage/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyAuthState — ключ состояния аутентификации в контексте запроса.
const ContextKeyAuthState contextKey = "auth_state"

// AuthState — результат аутентификации запроса.
type AuthState struct {
	// Authenticated — запрос предъявил валидный JWT
	Authenticated bool
	// Subject — sub из JWT, пустой для неаутентифицированных запросов
	Subject string
}

// Claims — структура JWT claims сервиса.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// JWTAuthConfig — параметры для создания JWT middleware.
type JWTAuthConfig struct {
	// URL JWKS endpoint
	JWKSURL string
	// Путь к CA-сертификату (опционально)
	CACertPath string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS из указанного URL.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	httpClient, err := buildHTTPClient(authCfg)
	if err != nil {
		return nil, err
	}

	if authCfg.CACertPath != "" {
		logger.Info("CA-сертификат добавлен в пул доверия",
			slog.String("ca_cert", authCfg.CACertPath),
		)
	}

	// NoErrorReturnFirstHTTPReq позволяет стартовать, даже если JWKS
	// endpoint ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", authCfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:      k,
		jwtLeeway: authCfg.JWTLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		jwtLeeway: jwtLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// buildHTTPClient создаёт HTTP-клиент с настроенным TLS и таймаутом.
func buildHTTPClient(authCfg JWTAuthConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{}

	if authCfg.CACertPath != "" {
		caCert, err := os.ReadFile(authCfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", authCfg.CACertPath, err)
		}

		caCertPool, err := x509.SystemCertPool()
		if err != nil {
			caCertPool = x509.NewCertPool()
		}
		caCertPool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = caCertPool
	}

	return &http.Client{
		Timeout: authCfg.ClientTimeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}, nil
}

// Required возвращает middleware, требующий валидный JWT.
// Без токена или с невалидным токеном запрос отклоняется с 401.
func (j *JWTAuth) Required() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state, errMsg := j.authenticate(r)
			if !state.Authenticated {
				apierrors.Unauthorized(w, errMsg)
				return
			}
			next.ServeHTTP(w, r.WithContext(withAuthState(r.Context(), state)))
		})
	}
}

// Optional возвращает middleware, помечающий запрос состоянием
// аутентификации без отклонения. Невалидный или отсутствующий токен
// даёт AuthState{Authenticated: false}; решение о доступе принимает
// сервисный слой.
func (j *JWTAuth) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state, _ := j.authenticate(r)
			next.ServeHTTP(w, r.WithContext(withAuthState(r.Context(), state)))
		})
	}
}

// authenticate валидирует Bearer token запроса.
// Возвращает состояние аутентификации и сообщение об ошибке для 401.
func (j *JWTAuth) authenticate(r *http.Request) (AuthState, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return AuthState{}, "Отсутствует заголовок Authorization"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return AuthState{}, "Неверный формат Authorization: ожидается Bearer <token>"
	}

	tokenString := parts[1]
	if tokenString == "" {
		return AuthState{}, "Пустой Bearer token"
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.jwtLeeway),
	)
	if err != nil {
		j.logger.Debug("JWT валидация не пройдена",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return AuthState{}, "Невалидный или просроченный токен"
	}

	if !token.Valid {
		return AuthState{}, "Невалидный токен"
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return AuthState{}, "Отсутствует sub в токене"
	}

	return AuthState{Authenticated: true, Subject: subject}, ""
}

// AllowAll возвращает middleware, помечающий все запросы
// аутентифицированными с указанным subject. Используется, когда
// SS_JWKS_URL не задан: режим разработки без проверки токенов.
func AllowAll(subject string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := AuthState{Authenticated: true, Subject: subject}
			next.ServeHTTP(w, r.WithContext(withAuthState(r.Context(), state)))
		})
	}
}

func withAuthState(ctx context.Context, state AuthState) context.Context {
	return context.WithValue(ctx, ContextKeyAuthState, state)
}

// AuthStateFromContext извлекает состояние аутентификации из контекста.
// Отсутствие состояния эквивалентно неаутентифицированному запросу.
func AuthStateFromContext(ctx context.Context) AuthState {
	state, _ := ctx.Value(ContextKeyAuthState).(AuthState)
	return state
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если запрос не аутентифицирован.
func SubjectFromContext(ctx context.Context) string {
	return AuthStateFromContext(ctx).Subject
}
