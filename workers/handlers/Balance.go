package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"xrplbridge/logging"
	"xrplbridge/types"
)

func (h *Handlers) balance(w http.ResponseWriter, r *http.Request, chain string, reader BalanceReader, address string) {
	balance, err := reader.Balance(r.Context(), address)
	if err != nil {
		logging.LoggerFromContext(r.Context()).WithError(err).WithFields(logrus.Fields{
			"chain":   chain,
			"address": address,
		}).Error("can't get bridge balance")
		responseError(w, "", "Error getting balance", http.StatusInternalServerError)
		return
	}

	// plain text keeps the old /balance/* consumers working
	if r.URL.Query().Get("format") != "json" {
		responsePlain(w, []byte(balance), http.StatusOK)
		return
	}
	responseJSON(w, &APIBalanceResponse{
		Status:  "ok",
		Chain:   chain,
		Address: address,
		Balance: balance,
	}, http.StatusOK)
}

func (h *Handlers) BalanceXRPL(w http.ResponseWriter, r *http.Request) {
	h.balance(w, r, types.CHAIN_XRPL, h.XRPL, h.XRPLBridgeAddress)
}

func (h *Handlers) BalanceEVM(w http.ResponseWriter, r *http.Request) {
	h.balance(w, r, types.CHAIN_EVM, h.EVM, h.EVMBridgeAddress)
}
