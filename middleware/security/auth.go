package security

import (
	"net/http"
	"strings"

	config "HProject/global/config"
	errs "HProject/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// —— context key ——
// 后续模块统一用这俩 key 读取
const (
	HBCtxIdentityKey = "harborIdentity" // string，调用方邮箱
	HBCtxTokenKey    = "harborToken"    // string，原始 bearer token
)

type Options struct {
	// 是否校验 JWT 签名；false 时 bearer 原文直接作为身份（内部联调用）
	VerifyJWT bool
}

func DefaultOptions() *Options {
	return &Options{VerifyJWT: true}
}

// BearerToken 从 Authorization: Bearer xxx 取 token，没有返回空串
func BearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("bearer "):])
}

// Middleware 准入校验：没有凭证直接 401，不再往后走
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized)
			return
		}

		identity := token
		if opts.VerifyJWT {
			email, err := parseIdentity(token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid)
				return
			}
			identity = email
		}

		c.Set(HBCtxTokenKey, token)
		c.Set(HBCtxIdentityKey, identity)
		c.Next()
	}
}

// IdentityFrom 读取中间件写入的调用方身份
func IdentityFrom(c *gin.Context) string {
	return c.GetString(HBCtxIdentityKey)
}

type identityClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func parseIdentity(token string) (string, error) {
	var claims identityClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return config.GetJwtSecret(), nil
	})
	if err != nil {
		return "", err
	}
	if claims.Email != "" {
		return claims.Email, nil
	}
	// 没有 email claim 时退回 sub
	return claims.Subject, nil
}

// SignIdentity 给测试/内部工具签发身份 token
func SignIdentity(email string) (string, error) {
	claims := identityClaims{Email: email}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(config.GetJwtSecret())
}
