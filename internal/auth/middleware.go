package auth

import (
	"errors"
	"net/http"

	"backend/internal/user"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthMiddleware JWT 认证中间件
// 验证令牌并校验账户状态，非 active 账户不放行计费操作。
func AuthMiddleware(jwtService *JWTService, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
			c.Abort()
			return
		}

		token := ExtractTokenFromBearer(authHeader)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌格式"})
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "令牌验证失败"})
			c.Abort()
			return
		}

		// 账户状态检查：认证边界的职责，账本核心不感知
		var u user.User
		err = db.WithContext(c.Request.Context()).
			Where("id = ?", claims.UserID).
			First(&u).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "账户不存在"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "账户查询失败"})
			}
			c.Abort()
			return
		}
		if !u.Status.IsActive() {
			c.JSON(http.StatusForbidden, gin.H{"error": "账户状态不允许该操作"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", u.Username)
		c.Next()
	}
}
