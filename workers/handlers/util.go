package handlers

import (
	"encoding/json"
	"net/http"

	addresscodec "github.com/Peersyst/xrpl-go/address-codec"
	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func responsePlain(w http.ResponseWriter, data []byte, code int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	w.Write(data)
}

func responseError(w http.ResponseWriter, field, message string, code int) {
	responseJSON(w, &APIResponse{
		Status:  "error",
		Field:   field,
		Message: message,
	}, code)
}

// validXRPLAddress accepts classic addresses with a valid checksum only
func validXRPLAddress(address string) bool {
	return addresscodec.IsValidClassicAddress(address)
}

func validEVMAddress(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	return ethav.Validate(common.HexToAddress(address).Hex()) == nil
}
