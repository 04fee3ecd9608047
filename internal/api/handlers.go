package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
	"github.com/punchamoorthee/stellarremit/internal/models"
	"github.com/punchamoorthee/stellarremit/internal/service"
)

func parseAsset(s string) (ledger.Asset, error) {
	a, err := ledger.ParseAsset(s)
	if err != nil {
		return ledger.Asset{}, fmt.Errorf("%w: %v", domain.ErrUnsupportedAsset, err)
	}
	return a, nil
}

func receipt(r *service.Receipt) models.ReceiptResponse {
	return models.ReceiptResponse{Transaction: models.FromTransaction(r.Transaction), Ledger: r.Ledger}
}

// Wallet

func (h *Handler) CreateWalletHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.wallets.CreateWallet(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if wallet.Created {
		code = http.StatusCreated
	}
	respondWithJSON(w, code, wallet)
}

func (h *Handler) ImportWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ImportWalletRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	wallet, err := h.wallets.ImportWallet(r.Context(), UserID(r.Context()), req.Secret)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *Handler) BalancesHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := h.wallets.Account(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.FromAccount(acc))
}

func (h *Handler) AddTrustlineHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TrustlineRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := models.ParseOptionalAmount(req.Limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.wallets.AddTrustline(r.Context(), UserID(r.Context()), asset, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

func (h *Handler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	h.idempotent(w, r, func(ctx context.Context, body []byte) (int, any, error) {
		var req models.PaymentRequest
		if err := decodeBody(body, &req); err != nil {
			return 0, nil, err
		}
		amt, err := models.ParseAmount(req.Amount)
		if err != nil {
			return 0, nil, err
		}
		asset, err := parseAsset(req.Asset)
		if err != nil {
			return 0, nil, err
		}
		res, err := h.wallets.SendPayment(ctx, UserID(ctx), service.PaymentRequest{
			Destination: req.Destination,
			Amount:      amt,
			Asset:       asset,
			Memo:        req.Memo,
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, receipt(res), nil
	})
}

func (h *Handler) CreatePathPaymentHandler(w http.ResponseWriter, r *http.Request) {
	h.idempotent(w, r, func(ctx context.Context, body []byte) (int, any, error) {
		var req models.PathPaymentRequest
		if err := decodeBody(body, &req); err != nil {
			return 0, nil, err
		}
		destAmount, err := models.ParseAmount(req.DestAmount)
		if err != nil {
			return 0, nil, err
		}
		sendMax, err := models.ParseOptionalAmount(req.SendMax)
		if err != nil {
			return 0, nil, err
		}
		destAsset, err := parseAsset(req.DestAsset)
		if err != nil {
			return 0, nil, err
		}
		sendAsset, err := parseAsset(req.SendAsset)
		if err != nil {
			return 0, nil, err
		}
		res, err := h.wallets.PathPayment(ctx, UserID(ctx), service.PathPaymentRequest{
			Destination: req.Destination,
			DestAsset:   destAsset,
			DestAmount:  destAmount,
			SendAsset:   sendAsset,
			SendMax:     sendMax,
			SlippageBps: req.SlippageBps,
			Memo:        req.Memo,
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, receipt(res), nil
	})
}

func (h *Handler) FindPathsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dest, err := parseAsset(q.Get("dest_asset"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	amt, err := models.ParseAmount(q.Get("dest_amount"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	paths, err := h.wallets.FindPaths(r.Context(), UserID(r.Context()), dest, amt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]models.PathResponse, 0, len(paths))
	for _, p := range paths {
		out = append(out, models.FromPath(p))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source, err := parseAsset(q.Get("source_asset"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dest, err := parseAsset(q.Get("dest_asset"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	amt, err := models.ParseAmount(q.Get("dest_amount"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	quote, err := h.wallets.Quote(r.Context(), source, dest, amt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.QuoteResponse{PathResponse: models.FromPath(quote.Path), Rate: quote.Rate})
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: limit must be an integer", errBadRequest))
			return
		}
		limit = n
	}
	txs, err := h.wallets.ListTransactions(r.Context(), UserID(r.Context()), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.FromTransactions(txs))
}

// Escrows

func (h *Handler) CreateEscrowHandler(w http.ResponseWriter, r *http.Request) {
	h.idempotent(w, r, func(ctx context.Context, body []byte) (int, any, error) {
		var req models.CreateEscrowRequest
		if err := decodeBody(body, &req); err != nil {
			return 0, nil, err
		}
		amt, err := models.ParseAmount(req.Amount)
		if err != nil {
			return 0, nil, err
		}
		e, err := h.escrows.Create(ctx, UserID(ctx), service.CreateEscrowRequest{
			RecipientAddress: req.RecipientAddress,
			Amount:           amt,
			Asset:            req.Asset,
			Deadline:         req.Deadline,
		})
		if err != nil {
			return 0, nil, err
		}
		w.Header().Set("Location", "/api/v1/escrows/"+e.ID)
		return http.StatusCreated, models.FromEscrow(*e), nil
	})
}

func (h *Handler) ListEscrowsHandler(w http.ResponseWriter, r *http.Request) {
	es, err := h.escrows.List(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.FromEscrows(es))
}

func (h *Handler) GetEscrowHandler(w http.ResponseWriter, r *http.Request) {
	e, err := h.escrows.Get(r.Context(), UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.FromEscrow(*e))
}

func (h *Handler) ReleaseEscrowHandler(w http.ResponseWriter, r *http.Request) {
	e, err := h.escrows.Release(r.Context(), UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.FromEscrow(*e))
}

func (h *Handler) RefundEscrowHandler(w http.ResponseWriter, r *http.Request) {
	e, err := h.escrows.Refund(r.Context(), UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.FromEscrow(*e))
}

// Pools

func (h *Handler) CreatePoolHandler(w http.ResponseWriter, r *http.Request) {
	h.idempotent(w, r, func(ctx context.Context, body []byte) (int, any, error) {
		var req models.CreatePoolRequest
		if err := decodeBody(body, &req); err != nil {
			return 0, nil, err
		}
		target, err := models.ParseAmount(req.TargetAmount)
		if err != nil {
			return 0, nil, err
		}
		contribution, err := models.ParseAmount(req.Contribution)
		if err != nil {
			return 0, nil, err
		}
		first, err := models.ParseOptionalAmount(req.FirstDeposit)
		if err != nil {
			return 0, nil, err
		}
		v, err := h.pools.Create(ctx, UserID(ctx), service.CreatePoolRequest{
			Name:         req.Name,
			TargetAmount: target,
			Contribution: contribution,
			MemberCount:  req.MemberCount,
			UnlockAt:     req.UnlockAt,
			FirstDeposit: first,
		})
		if err != nil {
			return 0, nil, err
		}
		w.Header().Set("Location", "/api/v1/pools/"+v.ID)
		return http.StatusCreated, models.FromPool(v.SavingsPool, v.Balance, v.Drift, v.Contributions), nil
	})
}

func (h *Handler) GetPoolHandler(w http.ResponseWriter, r *http.Request) {
	v, err := h.pools.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.FromPool(v.SavingsPool, v.Balance, v.Drift, v.Contributions))
}

func (h *Handler) ContributeHandler(w http.ResponseWriter, r *http.Request) {
	h.idempotent(w, r, func(ctx context.Context, body []byte) (int, any, error) {
		var req models.ContributionRequest
		if err := decodeBody(body, &req); err != nil {
			return 0, nil, err
		}
		amt, err := models.ParseAmount(req.Amount)
		if err != nil {
			return 0, nil, err
		}
		c, err := h.pools.Contribute(ctx, UserID(ctx), mux.Vars(r)["id"], amt)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, models.FromContribution(*c), nil
	})
}

func (h *Handler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	h.idempotent(w, r, func(ctx context.Context, body []byte) (int, any, error) {
		var req models.WithdrawalRequest
		if err := decodeBody(body, &req); err != nil {
			return 0, nil, err
		}
		amt, err := models.ParseAmount(req.Amount)
		if err != nil {
			return 0, nil, err
		}
		res, err := h.pools.Withdraw(ctx, UserID(ctx), mux.Vars(r)["id"], amt, req.Destination)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, receipt(res), nil
	})
}

// Tokens

func (h *Handler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	h.idempotent(w, r, func(ctx context.Context, body []byte) (int, any, error) {
		var req models.IssueTokenRequest
		if err := decodeBody(body, &req); err != nil {
			return 0, nil, err
		}
		amt, err := models.ParseOptionalAmount(req.Amount)
		if err != nil {
			return 0, nil, err
		}
		limit, err := models.ParseOptionalAmount(req.Limit)
		if err != nil {
			return 0, nil, err
		}
		t, err := h.tokens.Issue(ctx, UserID(ctx), service.IssueTokenRequest{
			Code:         req.Code,
			Amount:       amt,
			Limit:        limit,
			IssuerSecret: req.IssuerSecret,
		})
		if err != nil {
			return 0, nil, err
		}
		w.Header().Set("Location", "/api/v1/tokens/"+t.ID)
		return http.StatusCreated, models.FromToken(*t), nil
	})
}

func (h *Handler) ListTokensHandler(w http.ResponseWriter, r *http.Request) {
	ts, err := h.tokens.List(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.FromTokens(ts))
}

func (h *Handler) GetTokenHandler(w http.ResponseWriter, r *http.Request) {
	t, err := h.tokens.Get(r.Context(), UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.FromToken(*t))
}

func (h *Handler) DistributeTokenHandler(w http.ResponseWriter, r *http.Request) {
	h.idempotent(w, r, func(ctx context.Context, body []byte) (int, any, error) {
		var req models.DistributionRequest
		if err := decodeBody(body, &req); err != nil {
			return 0, nil, err
		}
		amt, err := models.ParseAmount(req.Amount)
		if err != nil {
			return 0, nil, err
		}
		res, err := h.tokens.Distribute(ctx, UserID(ctx), mux.Vars(r)["id"], req.Destination, amt)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, receipt(res), nil
	})
}

// Events

func (h *Handler) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		respondWithError(w, http.StatusNotImplemented, "Event stream disabled")
		return
	}
	h.ws.ServeWS(w, r, UserID(r.Context()))
}
