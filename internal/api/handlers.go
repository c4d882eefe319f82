package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"autotp/internal/domain"
	"autotp/internal/pricing"
	"autotp/internal/referral"
	"autotp/internal/solana"
	"autotp/internal/vault"
)

type vaultView struct {
	Address           string `json:"address"`
	Owner             string `json:"owner"`
	TokenMint         string `json:"token_mint"`
	TargetPrice       string `json:"target_price"`
	Referrer          string `json:"referrer,omitempty"`
	CurrentPrice      string `json:"current_price"`
	ReadyForExecution bool   `json:"ready_for_execution"`
	Custody           string `json:"custody,omitempty"`
	Balance           uint64 `json:"balance,string"`
}

type receiptView struct {
	ReceiptID string `json:"receipt_id"`
	Recipient string `json:"recipient"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount,string"`
	Sequence  uint64 `json:"sequence"`
}

type splitView struct {
	Total         uint64 `json:"total,string"`
	ProtocolFee   uint64 `json:"protocol_fee,string"`
	ReferrerFee   uint64 `json:"referrer_fee,string"`
	ProtocolShare uint64 `json:"protocol_share,string"`
	UserAmount    uint64 `json:"user_amount,string"`
	ReferrerPaid  bool   `json:"referrer_paid"`
}

func (s *Server) price(v uint64) string {
	return pricing.Format(v, s.opts.PriceDecimals)
}

func (s *Server) vaultView(v *domain.Vault) vaultView {
	view := vaultView{
		Address:           v.Address.String(),
		Owner:             v.Owner.String(),
		TokenMint:         v.TokenMint.String(),
		TargetPrice:       s.price(v.TargetPrice),
		CurrentPrice:      s.price(v.CurrentPrice),
		ReadyForExecution: v.ReadyForExecution,
	}
	if v.HasReferrer() {
		view.Referrer = v.Referrer.String()
	}
	return view
}

func (s *Server) snapshotView(snap *vault.Snapshot) vaultView {
	view := s.vaultView(snap.Vault)
	view.Custody = snap.Custody.String()
	view.Balance = snap.Balance
	return view
}

func receiptViews(receipts ...*domain.Receipt) []receiptView {
	views := make([]receiptView, 0, len(receipts))
	for _, r := range receipts {
		if r == nil {
			continue
		}
		views = append(views, receiptView{
			ReceiptID: r.ReceiptID,
			Recipient: r.Recipient.String(),
			To:        r.To.String(),
			Amount:    r.Amount,
			Sequence:  r.Sequence,
		})
	}
	return views
}

func settlementID(st *domain.Settlement) string {
	if st == nil {
		return ""
	}
	return st.SettlementID
}

// caller returns the verified identity of the request signer.
func caller(r *http.Request) (solana.PublicKey, error) {
	raw := strings.TrimSpace(r.Header.Get(CallerHeader))
	if raw == "" {
		return solana.ZeroKey, fmt.Errorf("missing %s header: %w", CallerHeader, vault.ErrUnauthorized)
	}
	pk, err := solana.ParsePublicKey(raw)
	if err != nil {
		return solana.ZeroKey, fmt.Errorf("%s header: %w", CallerHeader, err)
	}
	return pk, nil
}

func pathKey(r *http.Request, name string) (solana.PublicKey, error) {
	return solana.ParsePublicKey(chi.URLParam(r, name))
}

func optionalKey(s string) (solana.PublicKey, error) {
	if strings.TrimSpace(s) == "" {
		return solana.ZeroKey, nil
	}
	return solana.ParsePublicKey(strings.TrimSpace(s))
}

func (s *Server) badJSON(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), 0)
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner        string `json:"owner"`
		TokenMint    string `json:"token_mint"`
		TargetPrice  string `json:"target_price"`
		Referrer     string `json:"referrer"`
		ReferralLink string `json:"referral_link"`
	}
	if err := ReadJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}

	who, err := caller(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	owner, err := solana.ParsePublicKey(req.Owner)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	mint, err := solana.ParsePublicKey(req.TokenMint)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	target, err := pricing.Parse(req.TargetPrice, s.opts.PriceDecimals)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	ref, err := optionalKey(req.Referrer)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if ref.IsZero() && req.ReferralLink != "" {
		if ref, err = referral.FromLink(req.ReferralLink); err != nil {
			s.writeErr(w, err)
			return
		}
	}

	snap, err := s.vaults.Initialize(r.Context(), vault.InitializeRequest{
		Caller:      who,
		Owner:       owner,
		TokenMint:   mint,
		TargetPrice: target,
		Referrer:    ref,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"request_id": NewRequestID(), "vault": s.snapshotView(snap)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	owner, err := pathKey(r, "owner")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	snap, err := s.vaults.Get(r.Context(), owner)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"request_id": NewRequestID(), "vault": s.snapshotView(snap)})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if !s.opts.AllowDeposits {
		WriteError(w, http.StatusForbidden, "DEPOSITS_DISABLED", "deposits are disabled", 0)
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := ReadJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	owner, err := pathKey(r, "owner")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	amount, err := strconv.ParseUint(strings.TrimSpace(req.Amount), 10, 64)
	if err != nil || amount == 0 {
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", fmt.Sprintf("amount %q must be a positive integer of base units", req.Amount), 0)
		return
	}

	snap, err := s.vaults.Deposit(r.Context(), owner, amount)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"request_id": NewRequestID(), "vault": s.snapshotView(snap)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	owner, err := pathKey(r, "owner")
	if err != nil {
		s.writeErr(w, err)
		return
	}

	res, err := s.vaults.Cancel(r.Context(), who, owner)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	var refunded uint64
	if res.Receipt != nil {
		refunded = res.Receipt.Amount
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id":    NewRequestID(),
		"vault":         s.vaultView(res.Vault),
		"refunded":      strconv.FormatUint(refunded, 10),
		"receipts":      receiptViews(res.Receipt),
		"settlement_id": settlementID(res.Settlement),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ObservedPrice string `json:"observed_price"`
	}
	// the body is optional
	if err := ReadJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.badJSON(w, err)
		return
	}

	who, err := caller(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	owner, err := pathKey(r, "owner")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	var observed uint64
	if strings.TrimSpace(req.ObservedPrice) != "" {
		if observed, err = pricing.Parse(req.ObservedPrice, s.opts.PriceDecimals); err != nil {
			s.writeErr(w, err)
			return
		}
	}

	res, err := s.vaults.Execute(r.Context(), vault.ExecuteRequest{Caller: who, Owner: owner, ObservedPrice: observed})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": NewRequestID(),
		"vault":      s.vaultView(res.Vault),
		"price":      s.price(res.Price),
		"split": splitView{
			Total:         res.Split.Total,
			ProtocolFee:   res.Split.ProtocolFee,
			ReferrerFee:   res.Split.ReferrerFee,
			ProtocolShare: res.Split.ProtocolShare,
			UserAmount:    res.Split.UserAmount,
			ReferrerPaid:  res.Split.PayReferrer,
		},
		"receipts":      receiptViews(res.Receipts...),
		"settlement_id": settlementID(res.Settlement),
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price string `json:"price"`
	}
	if err := ReadJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	who, err := caller(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if s.opts.PriceAuthority.IsZero() || who != s.opts.PriceAuthority {
		s.writeErr(w, fmt.Errorf("caller %s may not record prices: %w", who, vault.ErrUnauthorized))
		return
	}
	owner, err := pathKey(r, "owner")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	price, err := pricing.Parse(req.Price, s.opts.PriceDecimals)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	v, err := s.vaults.RecordPrice(r.Context(), owner, price)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"request_id": NewRequestID(), "vault": s.vaultView(v)})
}

func (s *Server) handleReferral(w http.ResponseWriter, r *http.Request) {
	ref, err := pathKey(r, "referrer")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	stats, err := s.referrals.Stats(r.Context(), ref)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	earnings := make(map[string]string, len(stats.EarningsByMint))
	for mint, amount := range stats.EarningsByMint {
		earnings[mint] = strconv.FormatUint(amount, 10)
	}
	resp := map[string]any{
		"request_id":         NewRequestID(),
		"referrer":           stats.Referrer.String(),
		"total_referrals":    stats.TotalReferrals,
		"executed_referrals": stats.ExecutedReferrals,
		"earnings_by_mint":   earnings,
	}
	if s.opts.PublicURL != "" {
		link, err := referral.Link(s.opts.PublicURL, ref)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		resp["link"] = link
	}
	WriteJSON(w, http.StatusOK, resp)
}
