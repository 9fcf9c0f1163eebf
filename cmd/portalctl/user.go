package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nao1215/smsportal/internal/portal"
	"github.com/nao1215/smsportal/pkg/event"
)

// cliActor は管理コマンドによる変更を監査ログに記録する際の実行者名。
const cliActor = "portalctl"

func newUserCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "ユーザーを管理する",
	}
	cmd.AddCommand(
		newUserCreateCmd(opts),
		newUserSetRoleCmd(opts),
		newUserSetOTPCmd(opts),
	)
	return cmd
}

// userCreateOptions はuser createのフラグ。
type userCreateOptions struct {
	email    string
	password string
	name     string
	phone    string
	role     string
	otp      bool
}

func newUserCreateCmd(opts *globalOptions) *cobra.Command {
	o := &userCreateOptions{}

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "ユーザーを登録する",
		Example: `portalctl user create --email admin@example.com --password 'secret-pass' --role superadmin --phone +819012345678 --otp`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hash, err := portal.HashPassword(o.password)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, db, err := openStore(ctx, opts)
			if err != nil {
				return err
			}
			defer db.Close()

			user := portal.User{
				ID:           uuid.New().String(),
				Email:        o.email,
				PasswordHash: hash,
				DisplayName:  o.name,
				Phone:        o.phone,
				Role:         o.role,
				OTPEnabled:   o.otp,
				CreatedAt:    time.Now(),
			}
			if err := store.CreateUser(ctx, user); err != nil {
				return err
			}

			e, err := event.New(user.ID, event.AggregateTypeUser, event.TypeUserSignedUp, event.SignUpData{
				Email: o.email,
				Role:  o.role,
			})
			if err != nil {
				return err
			}
			if err := store.AppendEvent(ctx, e); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ユーザーを登録しました: id=%s role=%s\n", user.ID, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&o.email, "email", "", "メールアドレス")
	cmd.Flags().StringVar(&o.password, "password", "", "パスワード（8文字以上）")
	cmd.Flags().StringVar(&o.name, "name", "", "表示名")
	cmd.Flags().StringVar(&o.phone, "phone", "", "OTPの送信先電話番号")
	cmd.Flags().StringVar(&o.role, "role", "viewer", "ロール")
	cmd.Flags().BoolVar(&o.otp, "otp", false, "サインイン時にOTPを要求する")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserSetRoleCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <email> <role>",
		Short: "ユーザーのロールを変更する",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, role := args[0], args[1]

			ctx := cmd.Context()
			store, db, err := openStore(ctx, opts)
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := store.GetUserByEmail(ctx, email)
			if err != nil {
				return fmt.Errorf("ユーザーの取得に失敗: %w", err)
			}
			previous, err := store.SetUserRole(ctx, user.ID, role)
			if err != nil {
				return err
			}

			e, err := event.New(user.ID, event.AggregateTypeUser, event.TypeRoleAssigned, event.RoleAssignedData{
				PreviousRole: previous,
				Role:         role,
				AssignedBy:   cliActor,
			})
			if err != nil {
				return err
			}
			if err := store.AppendEvent(ctx, e); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s のロールを変更しました: %s -> %s\n", user.Email, previous, role)
			return nil
		},
	}
}

func newUserSetOTPCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-otp <email> <true|false>",
		Short: "サインイン時のOTP要否を変更する",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("OTP要否の解析に失敗: %w", err)
			}

			ctx := cmd.Context()
			store, db, err := openStore(ctx, opts)
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := store.GetUserByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("ユーザーの取得に失敗: %w", err)
			}
			if enabled && user.Phone == "" {
				return fmt.Errorf("%s には電話番号が登録されていません", user.Email)
			}
			if err := store.SetOTPEnabled(ctx, user.ID, enabled); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s のOTPを%tに設定しました\n", user.Email, enabled)
			return nil
		},
	}
}
