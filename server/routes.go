package server

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/samber/oops"

	"twitch-chat-relay/errutil"
	"twitch-chat-relay/hub"
	"twitch-chat-relay/subscription"
)

func (s *Server) registerRoutes() {
	s.E.GET("/ws", s.handleWS)
	s.E.GET("/broadcast", s.handleBroadcast)
	s.E.GET("/global_sub", s.handleGlobalSub)
	s.E.GET("/global_unsub", s.handleGlobalUnsub)
	s.E.GET("/global_subs", s.handleGlobalSubs)
	s.E.GET("/channels/:channel/subscribers", s.handleChannelSubscribers)
	s.E.GET("/healthz", s.handleHealth)
	s.E.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
}

type broadcastResponse struct {
	Delivered int `json:"delivered"`
}

func (s *Server) handleBroadcast(c echo.Context) error {
	message := c.QueryParam("message")
	delivered := s.registry.Broadcast(c.Request().Context(), hub.Text(message))
	return c.JSON(http.StatusOK, broadcastResponse{Delivered: delivered})
}

type subscriptionResponse struct {
	Channel    string `json:"channel"`
	Subscribed bool   `json:"subscribed"`
}

// handleGlobalSub подписывает global на канал с именем username.
// Если join не удался, подписка остаётся, а клиент получает ошибку.
func (s *Server) handleGlobalSub(c echo.Context) error {
	channel, err := channelParam(c.QueryParam("username"))
	if err != nil {
		return s.writeError(c, err)
	}
	if err := s.subs.Subscribe(c.Request().Context(), channel, subscription.Global); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, subscriptionResponse{Channel: channel, Subscribed: true})
}

func (s *Server) handleGlobalUnsub(c echo.Context) error {
	channel, err := channelParam(c.QueryParam("username"))
	if err != nil {
		return s.writeError(c, err)
	}
	s.subs.Unsubscribe(c.Request().Context(), channel, subscription.Global)
	return c.JSON(http.StatusOK, subscriptionResponse{Channel: channel, Subscribed: false})
}

func (s *Server) handleGlobalSubs(c echo.Context) error {
	return c.JSON(http.StatusOK, sortedSet(s.subs.ChannelsOf(subscription.Global)))
}

func (s *Server) handleChannelSubscribers(c echo.Context) error {
	channel, err := channelParam(c.Param("channel"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, sortedSet(s.subs.SubscribersOf(channel)))
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Channels    int    `json:"channels"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Connections: s.registry.Len(),
		Channels:    len(s.subs.Channels()),
	})
}

func channelParam(raw string) (string, error) {
	channel := subscription.NormalizeChannel(raw)
	if channel == "" {
		return "", oops.Code(errutil.CodeChannel).Errorf("channel is required")
	}
	return channel, nil
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
