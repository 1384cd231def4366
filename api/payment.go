package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *API) customerSessionHandler(c *gin.Context) {
	s, err := a.payments.CustomerSession(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"customerId": s.CustomerID, "clientSecret": s.ClientSecret})
}

func (a *API) setupIntentHandler(c *gin.Context) {
	secret, err := a.payments.SetupIntent(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"clientSecret": secret})
}

func (a *API) paymentMethodHandler(c *gin.Context) {
	pm, err := a.payments.PaymentMethod(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"paymentMethodId": pm})
}
