package router

import (
	"net/http"

	"github.com/tasklink/backend/internal/auth"
	"github.com/tasklink/backend/internal/dashboard"
	"github.com/tasklink/backend/internal/handlers"
	"github.com/tasklink/backend/internal/middleware"
	"github.com/tasklink/backend/internal/notify"
)

// New returns an http.Handler that serves the API under /api/v1.
// Everything except auth and the payment gateway callback runs behind JWT.
func New(
	authHandler *auth.Handler,
	taskHandler *handlers.TaskHandler,
	walletHandler *handlers.WalletHandler,
	notifyHandler *notify.Handler,
	dashHandler *dashboard.Handler,
	authMW func(http.Handler) http.Handler,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc(base+"/auth/register", authHandler.Register)
	mux.HandleFunc(base+"/auth/login", authHandler.Login)
	mux.HandleFunc(base+"/payments/callback", walletHandler.DepositCallback)

	mux.Handle(base+"/tasks", authMW(http.HandlerFunc(taskHandler.HandleTasks)))
	mux.Handle(base+"/tasks/", authMW(http.HandlerFunc(taskHandler.HandleTaskSubtree)))

	mux.Handle(base+"/wallet", authMW(methodGET(walletHandler.GetWallet)))
	mux.Handle(base+"/wallet/transactions", authMW(methodGET(walletHandler.ListTransactions)))
	mux.Handle(base+"/wallet/withdraw", authMW(methodPOST(walletHandler.Withdraw)))

	mux.Handle(base+"/notifications", authMW(methodGET(notifyHandler.List)))
	mux.Handle(base+"/notifications/read", authMW(methodPOST(notifyHandler.MarkAllRead)))

	mux.Handle(base+"/account/me", authMW(methodGET(dashHandler.GetMe)))
	mux.Handle(base+"/account/tasks", authMW(methodGET(dashHandler.MyTasks)))

	mux.Handle(base+"/admin/stats", authMW(middleware.RequireAdmin(methodGET(dashHandler.Stats))))

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
