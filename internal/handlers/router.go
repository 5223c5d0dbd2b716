package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/onboarding92/exchange-core/internal/storage"
	"github.com/onboarding92/exchange-core/libs/auth"
)

// RegisterRoutes wires the three handler groups: public market data,
// authenticated trading and wallet routes, and admin-only operations.
func RegisterRoutes(r *gin.Engine, orders *OrderHandler, market *MarketHandler, wallet *WalletHandler, jwtSecret []byte) {
	r.GET("/orderbook", market.GetOrderBook)
	r.GET("/trades", market.ListTrades)

	authed := r.Group("/", auth.Middleware(jwtSecret))
	authed.POST("/orders", orders.CreateOrder)
	authed.GET("/orders", orders.ListOrders)
	authed.GET("/orders/:id", orders.GetOrder)
	authed.DELETE("/orders/:id", orders.CancelOrder)

	authed.GET("/balances", wallet.ListBalances)
	authed.POST("/withdrawals", wallet.RequestWithdrawal)
	authed.GET("/withdrawals", wallet.ListWithdrawals)
	authed.GET("/withdrawals/:id", wallet.GetWithdrawal)

	admin := authed.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/withdrawals/:id/approve", wallet.DecideWithdrawal(storage.WithdrawalStatusApproved))
	admin.POST("/withdrawals/:id/reject", wallet.DecideWithdrawal(storage.WithdrawalStatusRejected))
	admin.POST("/deposits", wallet.Deposit)
}
