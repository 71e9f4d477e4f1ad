package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	relayer "github.com/crogas/relayer"
	"github.com/crogas/relayer/facilitation"
	"github.com/crogas/relayer/faucet"
	"github.com/crogas/relayer/forwarder"
)

// maxBodyBytes bounds request bodies; every inbound payload is a small JSON
// document.
const maxBodyBytes = 1 << 20

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read request body"})
		return nil, false
	}
	return body, true
}

func (s *Server) handleRelay(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if err := validateBody(relaySchema, body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid relay request", "details": err.Error()})
		return
	}
	req, signature, priority, err := parseRelayBody(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid relay request", "details": err.Error()})
		return
	}

	result, err := s.relay.Relay(c.Request.Context(), req, signature, relayer.ParseTier(priority))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid relay request", "details": err.Error()})
		return
	}

	switch result.Status {
	case forwarder.RelayOK:
		info := result.Quote.Tier.Info()
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"txHash":  result.TxHash,
			"quote": gin.H{
				"gasEstimate":   result.Quote.GasEstimate.String(),
				"priceUSDC":     result.Quote.CostDisplay,
				"priority":      string(result.Quote.Tier),
				"priorityEmoji": info.Emoji,
				"estimatedTime": info.EstimatedTime,
			},
		})
	case forwarder.RelayUnauthorized:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Relay failed", "details": result.Reason})
	}
}

func (s *Server) handleNonce(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address"})
		return
	}

	nonce, err := s.relay.Nonce(c.Request.Context(), common.HexToAddress(address))
	if err != nil {
		s.log.Error("nonce lookup failed", zap.String("address", address), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Nonce lookup failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nonce": nonce.String()})
}

func (s *Server) handleDomain(c *gin.Context) {
	domain := s.relay.SigningDomain()
	c.JSON(http.StatusOK, gin.H{
		"domain": gin.H{
			"name":              domain.Name,
			"version":           domain.Version,
			"chainId":           domain.ChainID.String(),
			"verifyingContract": domain.VerifyingContract,
		},
		"types": forwarder.RequestTypes(),
	})
}

func (s *Server) handleFacilitate(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if err := validateBody(facilitateSchema, body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid facilitation request", "details": err.Error()})
		return
	}
	auth, signature, target, err := parseFacilitateBody(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid facilitation request", "details": err.Error()})
		return
	}

	result, err := s.facilitator.Facilitate(c.Request.Context(), auth, signature, target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid facilitation request", "details": err.Error()})
		return
	}

	switch result.Status {
	case facilitation.Settled:
		c.JSON(http.StatusOK, gin.H{
			"authHash":   result.AuthHash,
			"relayHash":  result.RelayHash,
			"gasUsed":    result.GasEstimate.String(),
			"gasCostUSD": result.CostDisplay,
		})
	case facilitation.Unauthorized:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization", "details": result.Reason})
	case facilitation.PartialFailure:
		// Money moved: the payment was collected but the relay failed. The
		// response carries everything the payer needs to reconcile.
		resp := gin.H{
			"error":          "Facilitation failed after payment collection",
			"partialFailure": true,
			"authHash":       result.AuthHash,
			"details":        result.Reason,
		}
		if result.RefundHash != "" {
			resp["refundHash"] = result.RefundHash
		}
		if result.RefundError != "" {
			resp["refundError"] = result.RefundError
		}
		c.JSON(http.StatusInternalServerError, resp)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Facilitation failed", "details": result.Reason})
	}
}

func (s *Server) handleFaucet(kind faucet.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := readBody(c)
		if !ok {
			return
		}
		if err := validateBody(faucetSchema, body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid faucet request", "details": err.Error()})
			return
		}
		address, err := parseFaucetBody(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid faucet request", "details": err.Error()})
			return
		}

		d, err := s.faucet.Disburse(c.Request.Context(), kind, address)
		if err != nil {
			var limited *faucet.RateLimitedError
			if errors.As(err, &limited) {
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error":      "Faucet already used for this address",
					"retryAfter": int64(limited.RetryAfter.Seconds()),
				})
				return
			}
			var coded *relayer.RelayerError
			if errors.As(err, &coded) && coded.Code == relayer.ErrCodeInvalidAddress {
				c.JSON(http.StatusBadRequest, gin.H{"error": coded.Message})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Faucet disbursement failed", "details": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"hash":    d.TxHash,
			"amount":  d.Amount.String(),
			"message": "Disbursement sent",
		})
	}
}
