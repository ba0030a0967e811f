package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/failover"
	"github.com/quantfeed/market-gateway/internal/gateway"
	"github.com/quantfeed/market-gateway/internal/providers"
	"github.com/quantfeed/market-gateway/internal/providers/webfetch"
	"github.com/quantfeed/market-gateway/internal/store"
)

// AdminStore is the slice of the config store the admin endpoints need.
// *store.Store satisfies it.
type AdminStore interface {
	UpsertProviderConfig(ctx context.Context, pc store.ProviderConfig) error
	DeleteProviderConfig(ctx context.Context, name string) error
	UpsertSearchKey(ctx context.Context, k store.SearchKey) (int64, error)
	DeleteSearchKey(ctx context.Context, id int64) error
}

// errorResponse maps gateway errors onto HTTP statuses: client mistakes are
// 4xx, upstream exhaustion is 502, everything else 500.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	var exhausted *failover.ExhaustedError
	switch {
	case errors.Is(err, providers.ErrBadSymbol):
		status = http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnknownProvider):
		status = http.StatusBadRequest
	case errors.Is(err, webfetch.ErrBlacklisted):
		status = http.StatusForbidden
	case errors.As(err, &exhausted):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	return c.JSON(status, types.APIError{Error: err.Error()})
}

// quotes serves POST /api/v1/quotes.
func quotes(gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		req := types.QuoteRequest{}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, types.APIError{Error: err.Error()})
		}

		batch, err := gw.RealtimeQuotes(c.Request().Context(), req.Codes)
		countRequest(types.CapRealtimeQuotes, err)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, batch)
	}
}

// kline serves POST /api/v1/kline.
func kline(gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		req := types.KlineRequest{}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, types.APIError{Error: err.Error()})
		}

		series, err := gw.Kline(c.Request().Context(), req.Code, req.Period, req.Count, req.Adjust)
		countRequest(types.CapKline, err)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, series)
	}
}

// search serves POST /api/v1/search.
func search(gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		req := types.SearchRequest{}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, types.APIError{Error: err.Error()})
		}

		resp, err := gw.Search(c.Request().Context(), req.Query, req.Limit, req.Engine)
		countRequest(types.CapWebSearch, err)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// news serves POST /api/v1/news.
func news(gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		req := types.NewsRequest{}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, types.APIError{Error: err.Error()})
		}

		digest, err := gw.StockNews(c.Request().Context(), req.Keyword, req.Limit)
		countRequest(types.CapStockNews, err)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, digest)
	}
}

// page serves POST /api/v1/page.
func page(gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		req := types.PageRequest{}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, types.APIError{Error: err.Error()})
		}

		content, err := gw.PageContent(c.Request().Context(), req.URL, req.Depth)
		countRequest(types.CapPageContent, err)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, content)
	}
}

// providerStatuses serves GET /api/v1/providers.
func providerStatuses(gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, gw.ProviderStatuses())
	}
}

// resetProvider serves POST /api/v1/providers/:name/reset.
func resetProvider(gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		name := c.Param("name")
		if err := gw.ResetProvider(name); err != nil {
			if errors.Is(err, gateway.ErrUnknownProvider) {
				return c.JSON(http.StatusNotFound, types.APIError{Error: err.Error()})
			}
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "reset", "provider": name})
	}
}

// keyStatuses serves GET /api/v1/keys.
func keyStatuses(gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, gw.KeyStatuses())
	}
}

// capabilities serves GET /api/v1/capabilities.
func capabilities(gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, gw.Capabilities())
	}
}

// gatewayStats serves GET /api/v1/stats.
func gatewayStats(gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		data, err := gw.Stats().Json()
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSONBlob(http.StatusOK, data)
	}
}

// upsertProviderConfig serves POST /api/v1/admin/providers. The row is
// written and the gateway reloaded, so the change takes effect immediately.
func upsertProviderConfig(st AdminStore, gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		req := types.ProviderConfigUpsert{}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, types.APIError{Error: err.Error()})
		}

		ctx := c.Request().Context()
		err := st.UpsertProviderConfig(ctx, store.ProviderConfig{
			ProviderName:     req.ProviderName,
			Enabled:          req.Enabled,
			Priority:         req.Priority,
			FailureThreshold: req.FailureThreshold,
			CooldownSeconds:  req.CooldownSeconds,
		})
		if err != nil {
			return errorResponse(c, err)
		}
		if err := gw.Reload(ctx); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "updated", "provider": req.ProviderName})
	}
}

// deleteProviderConfig serves DELETE /api/v1/admin/providers/:name.
func deleteProviderConfig(st AdminStore, gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		name := c.Param("name")
		if err := st.DeleteProviderConfig(ctx, name); err != nil {
			return errorResponse(c, err)
		}
		if err := gw.Reload(ctx); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "deleted", "provider": name})
	}
}

// upsertSearchKey serves POST /api/v1/admin/keys.
func upsertSearchKey(st AdminStore, gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		req := types.SearchKeyUpsert{}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, types.APIError{Error: err.Error()})
		}

		ctx := c.Request().Context()
		id, err := st.UpsertSearchKey(ctx, store.SearchKey{
			Engine:     req.Engine,
			APIKey:     req.APIKey,
			Enabled:    req.Enabled,
			Weight:     req.Weight,
			DailyLimit: req.DailyLimit,
		})
		if err != nil {
			return errorResponse(c, err)
		}
		if err := gw.Reload(ctx); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "updated", "id": id})
	}
}

// deleteSearchKey serves DELETE /api/v1/admin/keys/:id.
func deleteSearchKey(st AdminStore, gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, types.APIError{Error: "invalid key id"})
		}

		ctx := c.Request().Context()
		if err := st.DeleteSearchKey(ctx, id); err != nil {
			return errorResponse(c, err)
		}
		if err := gw.Reload(ctx); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "deleted", "id": id})
	}
}

// reload serves POST /api/v1/admin/reload for config changes made outside
// the admin endpoints, like edits straight to the database.
func reload(gw *gateway.Gateway) func(c echo.Context) error {
	return func(c echo.Context) error {
		if err := gw.Reload(c.Request().Context()); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "reloaded"})
	}
}
