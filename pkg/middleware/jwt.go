package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SupabaseClaims はSupabase Authが発行するJWTのクレーム。
type SupabaseClaims struct {
	jwt.RegisteredClaims
	// Role は anon, authenticated, service_role のいずれか。
	Role string `json:"role"`
	// Email はユーザーのメールアドレス。サービスロールでは空。
	Email string `json:"email"`
}

// コンテキストキー。
const (
	contextKeySubject = "auth_subject"
	contextKeyRole    = "auth_role"
)

// JWTAuth はHS256で署名されたSupabaseのJWTを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストにsubとroleを設定する。
// allowedRolesが空でなければ、そのいずれかのroleを持つトークンだけを通す。
func JWTAuth(secret string, allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &SupabaseClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		if len(allowedRoles) > 0 && !contains(allowedRoles, claims.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}

		c.Set(contextKeySubject, claims.Subject)
		c.Set(contextKeyRole, claims.Role)
		c.Next()
	}
}

// Subject はGinコンテキストから認証済みトークンのsubを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func Subject(c *gin.Context) string {
	return c.GetString(contextKeySubject)
}

// Role はGinコンテキストから認証済みトークンのroleを取得する。
func Role(c *gin.Context) string {
	return c.GetString(contextKeyRole)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
