package api

import (
	"net/http"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/subscription"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// handleCreateSubscription stores a new subscription, filling configured delivery defaults
func (s *Server) handleCreateSubscription(c *gin.Context) {
	var sub subscription.Subscription
	if err := c.ShouldBindJSON(&sub); err != nil {
		s.respondError(c, bindError(err), nil)
		return
	}
	defaults := s.app.Config.Subscription
	if sub.Preferences.Frequency == "" {
		sub.Preferences.Frequency = defaults.DefaultFrequency
	}
	if sub.Preferences.Channel == "" {
		sub.Preferences.Channel = defaults.DefaultChannel
	}

	if err := s.app.Subscriptions.Create(c.Request.Context(), &sub); err != nil {
		s.respondError(c, err, nil)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"request_id":      requestID(c),
		"subscription_id": sub.ID,
		"frequency":       sub.Preferences.Frequency,
	}).Info("Subscription created")
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) handleGetSubscription(c *gin.Context) {
	id, ok := subscriptionID(c)
	if !ok {
		s.respondError(c, domain.ErrNotFound, nil)
		return
	}
	sub, err := s.app.Subscriptions.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// handleCancelSubscription cancels a subscription. Repeating it returns the same record.
func (s *Server) handleCancelSubscription(c *gin.Context) {
	id, ok := subscriptionID(c)
	if !ok {
		s.respondError(c, domain.ErrNotFound, nil)
		return
	}
	sub, err := s.app.Subscriptions.Cancel(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err, nil)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"request_id":      requestID(c),
		"subscription_id": sub.ID,
	}).Info("Subscription cancelled")
	c.JSON(http.StatusOK, sub)
}

// subscriptionID returns the path id when it is a well-formed uuid
func subscriptionID(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return "", false
	}
	return id.String(), true
}
