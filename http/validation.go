package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/xeipuuv/gojsonschema"

	relayer "github.com/crogas/relayer"
	"github.com/crogas/relayer/facilitation"
	"github.com/crogas/relayer/forwarder"
)

// Inbound body schemas. Quantities are accepted as decimal strings or JSON
// integers; large values must be sent as strings to survive JSON number
// precision, which is why everything is re-parsed through big.Int below.
const (
	addressPattern   = "^0x[a-fA-F0-9]{40}$"
	hexDataPattern   = "^0x[a-fA-F0-9]*$"
	signaturePattern = "^0x[a-fA-F0-9]{130}$"

	relaySchema = `{
		"type": "object",
		"required": ["request", "signature"],
		"properties": {
			"request": {
				"type": "object",
				"required": ["from", "to", "nonce", "deadline"],
				"properties": {
					"from": {"type": "string", "pattern": "` + addressPattern + `"},
					"to": {"type": "string", "pattern": "` + addressPattern + `"},
					"value": {"type": ["string", "integer"]},
					"gas": {"type": ["string", "integer"]},
					"nonce": {"type": ["string", "integer"]},
					"deadline": {"type": ["string", "integer"]},
					"data": {"type": "string", "pattern": "` + hexDataPattern + `"}
				}
			},
			"signature": {"type": "string", "pattern": "^0x[a-fA-F0-9]+$"},
			"priority": {"type": "string"}
		}
	}`

	facilitateSchema = `{
		"type": "object",
		"required": ["typedData", "signature", "targetTx"],
		"properties": {
			"typedData": {
				"type": "object",
				"required": ["message"],
				"properties": {
					"message": {
						"type": "object",
						"required": ["from", "to", "value", "validAfter", "validBefore", "nonce"],
						"properties": {
							"from": {"type": "string", "pattern": "` + addressPattern + `"},
							"to": {"type": "string", "pattern": "` + addressPattern + `"},
							"value": {"type": ["string", "integer"]},
							"validAfter": {"type": ["string", "integer"]},
							"validBefore": {"type": ["string", "integer"]},
							"nonce": {"type": "string", "pattern": "^0x[a-fA-F0-9]{64}$"}
						}
					}
				}
			},
			"signature": {"type": "string", "pattern": "` + signaturePattern + `"},
			"targetTx": {
				"type": "object",
				"required": ["to", "data"],
				"properties": {
					"to": {"type": "string", "pattern": "` + addressPattern + `"},
					"data": {"type": "string", "pattern": "` + hexDataPattern + `"},
					"value": {"type": ["string", "integer"]}
				}
			}
		}
	}`

	faucetSchema = `{
		"type": "object",
		"required": ["address"],
		"properties": {
			"address": {"type": "string", "pattern": "` + addressPattern + `"}
		}
	}`
)

// validateBody checks a raw JSON body against a schema and flattens the
// validation errors into one message.
func validateBody(schema string, body []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(body),
	)
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

type relayBody struct {
	Request struct {
		From     string      `json:"from"`
		To       string      `json:"to"`
		Value    interface{} `json:"value"`
		Gas      interface{} `json:"gas"`
		Nonce    interface{} `json:"nonce"`
		Deadline interface{} `json:"deadline"`
		Data     string      `json:"data"`
	} `json:"request"`
	Signature string `json:"signature"`
	Priority  string `json:"priority"`
}

type facilitateBody struct {
	TypedData struct {
		Message struct {
			From        string      `json:"from"`
			To          string      `json:"to"`
			Value       interface{} `json:"value"`
			ValidAfter  interface{} `json:"validAfter"`
			ValidBefore interface{} `json:"validBefore"`
			Nonce       string      `json:"nonce"`
		} `json:"message"`
	} `json:"typedData"`
	Signature string `json:"signature"`
	TargetTx  struct {
		To    string      `json:"to"`
		Data  string      `json:"data"`
		Value interface{} `json:"value"`
	} `json:"targetTx"`
}

type faucetBody struct {
	Address string `json:"address"`
}

func decodeInto(body []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// parseQuantity converts a decoded JSON value (decimal string or number)
// into a big.Int. A nil value yields def, which may itself be nil. Every
// on-chain quantity is unsigned, so negatives are rejected here instead of
// wrapping in the ABI layer.
func parseQuantity(v interface{}, def *big.Int) (*big.Int, error) {
	switch x := v.(type) {
	case nil:
		return def, nil
	case string:
		n, ok := new(big.Int).SetString(x, 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("invalid decimal quantity: %q", x)
		}
		return n, nil
	case json.Number:
		n, ok := new(big.Int).SetString(x.String(), 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("invalid quantity: %q", x.String())
		}
		return n, nil
	default:
		return nil, fmt.Errorf("invalid quantity type %T", v)
	}
}

func parseHexData(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	return hexutil.Decode(s)
}

func parseRelayBody(body []byte) (forwarder.ForwardRequest, []byte, string, error) {
	var dto relayBody
	if err := decodeInto(body, &dto); err != nil {
		return forwarder.ForwardRequest{}, nil, "", err
	}

	value, err := parseQuantity(dto.Request.Value, big.NewInt(0))
	if err != nil {
		return forwarder.ForwardRequest{}, nil, "", err
	}
	gas, err := parseQuantity(dto.Request.Gas, big.NewInt(250000))
	if err != nil {
		return forwarder.ForwardRequest{}, nil, "", err
	}
	nonce, err := parseQuantity(dto.Request.Nonce, nil)
	if err != nil {
		return forwarder.ForwardRequest{}, nil, "", err
	}
	deadline, err := parseQuantity(dto.Request.Deadline, nil)
	if err != nil {
		return forwarder.ForwardRequest{}, nil, "", err
	}
	data, err := parseHexData(dto.Request.Data)
	if err != nil {
		return forwarder.ForwardRequest{}, nil, "", err
	}
	signature, err := hexutil.Decode(dto.Signature)
	if err != nil {
		return forwarder.ForwardRequest{}, nil, "", err
	}

	req := forwarder.ForwardRequest{
		From:     common.HexToAddress(dto.Request.From),
		To:       common.HexToAddress(dto.Request.To),
		Value:    value,
		Gas:      gas,
		Nonce:    nonce,
		Deadline: deadline,
		Data:     data,
	}
	return req, signature, dto.Priority, nil
}

func parseFacilitateBody(body []byte) (facilitation.Authorization, []byte, relayer.Call, error) {
	var dto facilitateBody
	if err := decodeInto(body, &dto); err != nil {
		return facilitation.Authorization{}, nil, relayer.Call{}, err
	}

	msg := dto.TypedData.Message
	value, err := parseQuantity(msg.Value, nil)
	if err != nil {
		return facilitation.Authorization{}, nil, relayer.Call{}, err
	}
	validAfter, err := parseQuantity(msg.ValidAfter, nil)
	if err != nil {
		return facilitation.Authorization{}, nil, relayer.Call{}, err
	}
	validBefore, err := parseQuantity(msg.ValidBefore, nil)
	if err != nil {
		return facilitation.Authorization{}, nil, relayer.Call{}, err
	}
	nonceBytes, err := hexutil.Decode(msg.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return facilitation.Authorization{}, nil, relayer.Call{}, fmt.Errorf("invalid authorization nonce")
	}
	signature, err := hexutil.Decode(dto.Signature)
	if err != nil {
		return facilitation.Authorization{}, nil, relayer.Call{}, err
	}
	targetData, err := parseHexData(dto.TargetTx.Data)
	if err != nil {
		return facilitation.Authorization{}, nil, relayer.Call{}, err
	}
	targetValue, err := parseQuantity(dto.TargetTx.Value, nil)
	if err != nil {
		return facilitation.Authorization{}, nil, relayer.Call{}, err
	}

	auth := facilitation.Authorization{
		From:        common.HexToAddress(msg.From),
		To:          common.HexToAddress(msg.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
	}
	copy(auth.Nonce[:], nonceBytes)

	target := relayer.Call{
		To:    common.HexToAddress(dto.TargetTx.To),
		Data:  targetData,
		Value: targetValue,
	}
	return auth, signature, target, nil
}

func parseFaucetBody(body []byte) (common.Address, error) {
	var dto faucetBody
	if err := decodeInto(body, &dto); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(dto.Address), nil
}
