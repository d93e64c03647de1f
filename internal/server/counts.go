package server

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tallyworks/tallyd/internal/counter/domain"
)

type deltaRequest struct {
	Facility string `json:"facility" binding:"required"`
	Line     string `json:"line" binding:"required"`
	Date     string `json:"date"`
}

type countResponse struct {
	Facility string `json:"facility"`
	Line     string `json:"line"`
	Date     string `json:"date"`
	domain.CounterState
}

func (s *Server) GetCount(c *gin.Context) {
	facility := c.Query("facility")
	line := c.Query("line")
	if facility == "" {
		AbortWithError(c, newValidationError("facility", "required", "facility is required"))
		return
	}
	if line == "" {
		AbortWithError(c, newValidationError("line", "required", "line is required"))
		return
	}
	date := s.dateOrToday(c.Query("date"))

	state, err := s.svc.GetCount(c.Request.Context(), facility, line, date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, countResponse{
		Facility:     facility,
		Line:         line,
		Date:         date,
		CounterState: state,
	})
}

func (s *Server) GetHourlyRates(c *gin.Context) {
	date := s.dateOrToday(c.Query("date"))

	rates, err := s.svc.GetHourlyRates(c.Request.Context(), date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":  date,
		"rates": rates,
	})
}

func (s *Server) GetHistoricalData(c *gin.Context) {
	date := s.dateOrToday(c.Query("date"))

	data, err := s.svc.GetHistoricalData(c.Request.Context(), date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date": date,
		"data": data,
	})
}

func (s *Server) Increment(c *gin.Context) {
	s.applyDelta(c, s.svc.Increment)
}

func (s *Server) Decrement(c *gin.Context) {
	s.applyDelta(c, s.svc.Decrement)
}

func (s *Server) applyDelta(c *gin.Context, op func(ctx context.Context, facility, line, date string) (domain.CounterState, error)) {
	var req deltaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Date = s.dateOrToday(req.Date)

	if !s.allowDevice(c, req.Facility, req.Line) {
		return
	}

	state, err := op(c.Request.Context(), req.Facility, req.Line, req.Date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, countResponse{
		Facility:     req.Facility,
		Line:         req.Line,
		Date:         req.Date,
		CounterState: state,
	})
}

// allowDevice asks the device limiter whether this counting station may emit
// another event. Limiter outages never block events.
func (s *Server) allowDevice(c *gin.Context, facility, line string) bool {
	if !s.limiter.Enabled() {
		return true
	}
	res, err := s.limiter.Allow(c.Request.Context(), facility, line)
	if err != nil {
		s.log.Warn("device limiter unavailable, allowing event", zap.Error(err))
		return true
	}
	if res.Allowed {
		return true
	}
	if res.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	}
	AbortWithError(c, domain.ErrRateLimited)
	return false
}

func (s *Server) dateOrToday(date string) string {
	if date == "" {
		return domain.DateOf(s.clock.Now())
	}
	return date
}
