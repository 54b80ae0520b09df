package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/wonny/otcseller/internal/api/handlers"
	"github.com/wonny/otcseller/internal/contracts"
)

var (
	orderCmd = &cobra.Command{
		Use:   "order",
		Short: "Check, settle, cancel and complete orders",
		Long: `Order files are JSON in the order book form, either a bare order or
{"order": {...}, "uid": "0x..."}. Without a uid one is derived for the seller.
The receiver must be the pair's receiver, normally the seller itself.

Example order.json:
  {
    "sellToken": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
    "buyToken": "0x6B175474E89094C44Da98b954EedeAC495271d0F",
    "receiver": "0x1111111111111111111111111111111111111111",
    "sellAmount": "10000000000000000000",
    "buyAmount": "19600000000000000000000",
    "validTo": 1900000000,
    "feeAmount": "0"
  }`,
	}

	orderUIDCmd = &cobra.Command{
		Use:   "uid",
		Short: "Print the uid of an order for the seller",
		RunE:  runOrderUID,
	}

	orderCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "Dry-run the order checks",
		RunE:  runOrderCheck,
	}

	orderSettleCmd = &cobra.Command{
		Use:   "settle",
		Short: "Reserve funds and pre-sign an order",
		RunE:  runOrderSettle,
	}

	orderCancelCmd = &cobra.Command{
		Use:   "cancel <uid>",
		Short: "Revoke a pre-signature and refund the treasury",
		Args:  cobra.ExactArgs(1),
		RunE:  runOrderCancel,
	}

	orderCompleteCmd = &cobra.Command{
		Use:   "complete <uid>",
		Short: "Send proceeds of a filled order to the treasury",
		Args:  cobra.ExactArgs(1),
		RunE:  runOrderComplete,
	}

	orderStatusCmd = &cobra.Command{
		Use:   "status <uid>",
		Short: "Show the ledger record and on-chain status",
		Args:  cobra.ExactArgs(1),
		RunE:  runOrderStatus,
	}

	orderFile string
)

func init() {
	rootCmd.AddCommand(orderCmd)
	orderCmd.AddCommand(orderUIDCmd, orderCheckCmd, orderSettleCmd, orderCancelCmd, orderCompleteCmd, orderStatusCmd)

	for _, c := range []*cobra.Command{orderUIDCmd, orderCheckCmd, orderSettleCmd} {
		c.Flags().StringVarP(&orderFile, "file", "f", "", "order JSON file")
		_ = c.MarkFlagRequired("file")
	}
	for _, c := range []*cobra.Command{orderSettleCmd, orderCancelCmd, orderCompleteCmd} {
		c.Flags().StringVar(&callerFlag, "caller", "", "acting address (default: the seller key)")
	}
}

// readOrderFile accepts a bare order or an OrderRequest
func readOrderFile(path string) (handlers.OrderRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return handlers.OrderRequest{}, err
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return handlers.OrderRequest{}, fmt.Errorf("parse %s: %w", path, err)
	}

	var req handlers.OrderRequest
	if _, wrapped := probe["order"]; wrapped {
		err = json.Unmarshal(data, &req)
	} else {
		err = json.Unmarshal(data, &req.Order)
	}
	if err != nil {
		return handlers.OrderRequest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return req, nil
}

// resolveUID returns the explicit uid or derives it for the seller
func (s *seller) resolveUID(req handlers.OrderRequest) (contracts.OrderUID, error) {
	if req.UID != nil {
		return *req.UID, nil
	}
	return s.hasher.UID(req.Order, s.env.Deployment.Seller)
}

func runOrderUID(cmd *cobra.Command, args []string) error {
	a, s, err := openForCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	req, err := readOrderFile(orderFile)
	if err != nil {
		return err
	}
	digest, err := s.hasher.Digest(req.Order)
	if err != nil {
		return err
	}
	uid := contracts.PackOrderUID(digest, s.env.Deployment.Seller, req.Order.ValidTo)

	if printJSON(map[string]string{"uid": uid.Hex(), "digest": digest.Hex()}) {
		return nil
	}
	fmt.Println(uid.Hex())
	return nil
}

func runOrderCheck(cmd *cobra.Command, args []string) error {
	a, s, err := openForCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	req, err := readOrderFile(orderFile)
	if err != nil {
		return err
	}
	uid, err := s.resolveUID(req)
	if err != nil {
		return err
	}

	res, err := s.validator.CheckOrder(cmd.Context(), req.Order, uid)
	if err != nil {
		return err
	}
	if printJSON(res) {
		return nil
	}

	printHeader("Order check")
	printField("UID", uid.Hex())
	if res.OK {
		printField("Result", "✅ OK")
	} else {
		printField("Result", "❌ "+string(res.Reason))
		printField("Detail", res.Detail)
	}
	if b := res.Bound; b != nil {
		printField("Price", fmt.Sprintf("%s (%s, %d decimals)", b.Price, b.Source, b.Decimals))
		printField("Min buy", formatAmount(b.MinBuyAmount, s.decimalsOf(req.Order.BuyToken)))
	}
	printFooter()
	return nil
}

func runOrderSettle(cmd *cobra.Command, args []string) error {
	a, s, err := openForCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	caller, err := a.signer(callerFlag)
	if err != nil {
		return err
	}
	req, err := readOrderFile(orderFile)
	if err != nil {
		return err
	}
	uid, err := s.resolveUID(req)
	if err != nil {
		return err
	}

	rec, err := s.engine.SettleOrder(cmd.Context(), caller, req.Order, uid)
	if err != nil {
		return err
	}
	return showRecord(s, "Order settled", rec)
}

func runOrderCancel(cmd *cobra.Command, args []string) error {
	return transition(cmd, args[0], "Order canceled", func(s *seller, caller common.Address, uid contracts.OrderUID) (contracts.OrderRecord, error) {
		return s.engine.CancelOrder(cmd.Context(), caller, uid)
	})
}

func runOrderComplete(cmd *cobra.Command, args []string) error {
	return transition(cmd, args[0], "Order completed", func(s *seller, caller common.Address, uid contracts.OrderUID) (contracts.OrderRecord, error) {
		return s.engine.CompleteOrder(cmd.Context(), caller, uid)
	})
}

func transition(cmd *cobra.Command, rawUID, title string, fn func(*seller, common.Address, contracts.OrderUID) (contracts.OrderRecord, error)) error {
	uid, err := contracts.ParseOrderUID(rawUID)
	if err != nil {
		return err
	}
	a, s, err := openForCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	caller, err := a.signer(callerFlag)
	if err != nil {
		return err
	}
	rec, err := fn(s, caller, uid)
	if err != nil {
		return err
	}
	return showRecord(s, title, rec)
}

func runOrderStatus(cmd *cobra.Command, args []string) error {
	uid, err := contracts.ParseOrderUID(args[0])
	if err != nil {
		return err
	}
	a, s, err := openForCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := s.engine.Status(cmd.Context(), uid)
	if err != nil {
		return err
	}
	if printJSON(status) {
		return nil
	}

	printHeader("Order status")
	printRecord(status.Record, s.decimalsOf)
	printField("Pre-signed", status.PreSigned)
	printField("Filled", formatAmount(status.Filled, s.decimalsOf(status.Record.SellToken)))
	printFooter()
	return nil
}

func showRecord(s *seller, title string, rec contracts.OrderRecord) error {
	if printJSON(rec) {
		return nil
	}
	printHeader(title)
	printRecord(rec, s.decimalsOf)
	printFooter()
	return nil
}

// openForCommand bootstraps and wires the seller
func openForCommand(cmd *cobra.Command) (*app, *seller, error) {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	s, err := a.openSeller(cmd.Context())
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, s, nil
}
