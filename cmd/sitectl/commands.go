package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/prohmpiriya/tutor-site/client"
	"github.com/spf13/cobra"
)

func loginCmd(opts *options) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session cookie",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("SITECTL_PASSWORD")
			}
			c, jar, err := newClient(opts)
			if err != nil {
				return err
			}
			s := client.NewSession(c)
			if err := s.LoginErr(cmd.Context(), username, password); err != nil {
				return err
			}
			if err := jar.Save(); err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"state": s.State().String(), "user": s.User()})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (or SITECTL_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func verifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check whether the stored session is still valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, jar, err := newClient(opts)
			if err != nil {
				return err
			}
			s := client.NewSession(c)
			state := s.Hydrate(cmd.Context())
			if err := jar.Save(); err != nil {
				return err
			}
			if err := printJSON(map[string]interface{}{"state": state.String(), "user": s.User()}); err != nil {
				return err
			}
			if state != client.StateAuthenticated {
				return errors.New("not logged in")
			}
			return nil
		},
	}
}

func logoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, jar, err := newClient(opts)
			if err != nil {
				return err
			}
			logoutErr := client.NewSession(c).Logout(cmd.Context())
			// local state is gone even if the route failed
			jar.Clear()
			if err := jar.Save(); err != nil {
				return err
			}
			return logoutErr
		},
	}
}

func checkoutCmd(opts *options) *cobra.Command {
	var (
		intent    client.OrderIntent
		title     string
		listPrice float64
		amount    string
	)

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Create a payment order for an item",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(opts)
			if err != nil {
				return err
			}
			if amount == "" {
				amount = fmt.Sprintf("%.2f", client.MinimumAmount(listPrice))
			}
			value, err := client.ValidateAmount(amount, listPrice)
			if err != nil {
				return err
			}
			intent.Amount = value
			if intent.ItemName == "" {
				intent.ItemName = title
			}

			co := client.NewCheckout(c)
			if err := co.SaveSession(client.CheckoutSession{ItemID: intent.ItemID, Title: title, Amount: value}); err != nil {
				return err
			}
			order, err := co.CreateOrder(cmd.Context(), intent, listPrice)
			if err != nil {
				return err
			}
			return printJSON(order.Raw)
		},
	}

	f := cmd.Flags()
	f.StringVar(&intent.ItemID, "item", "", "item id")
	f.StringVar(&title, "title", "", "item title")
	f.StringVar(&intent.ItemType, "type", "course", "item type")
	f.Float64Var(&listPrice, "price", 0, "item list price")
	f.StringVar(&amount, "amount", "", "amount to pay (defaults to the minimum)")
	f.StringVar(&intent.Currency, "currency", "USD", "currency code")
	f.StringVar(&intent.BuyerEmail, "email", "", "buyer email")
	f.StringVar(&intent.Description, "description", "", "order description")
	f.StringVar(&intent.ReturnURL, "return-url", "", "processor return URL")
	f.StringVar(&intent.CancelURL, "cancel-url", "", "processor cancel URL")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func captureCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "capture ORDER_ID",
		Short: "Capture an approved order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(opts)
			if err != nil {
				return err
			}
			order, err := client.NewCheckout(c).Capture(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(order.Raw)
		},
	}
}

func orderCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "order ORDER_ID",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(opts)
			if err != nil {
				return err
			}
			order, err := client.NewCheckout(c).Order(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(order.Raw)
		},
	}
}

func printJSON(v interface{}) error {
	if raw, ok := v.(json.RawMessage); ok {
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err == nil {
			v = decoded
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
