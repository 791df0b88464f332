package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tyemirov/todoctl/internal/session"
)

var errEmptyPassword = errors.New("cli.empty_password")

func newLoginCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "login",
		Short:   "Exchange username and password for a stored session",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			username, _ := command.Flags().GetString("username")
			password, _ := command.Flags().GetString("password")
			if strings.TrimSpace(username) == "" {
				return errors.New("login: --username is required")
			}
			if password == "" {
				prompted, err := promptSecret(command, "Password: ")
				if err != nil {
					return err
				}
				password = prompted
			}
			user, err := app.client.Login(commandContext(command), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "logged in as %s\n", user.DisplayName())
			return nil
		}),
	}
	command.Flags().String("username", "", "Account username")
	command.Flags().String("password", "", "Account password; prompted on stdin when omitted")
	return command
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "logout",
		Short:   "Forget the stored session",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			if err := app.client.Logout(commandContext(command)); err != nil {
				return err
			}
			fmt.Fprintln(app.out, "logged out")
			return nil
		}),
	}
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:     "whoami",
		Short:   "Show the signed-in user",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			if !app.client.IsAuthenticated(commandContext(command)) {
				return errors.New("not logged in; run `todoctl login`")
			}
			user, err := app.client.CurrentUser(commandContext(command))
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "%s (id %d)", user.Username, user.ID)
			if user.Email != "" {
				fmt.Fprintf(app.out, " <%s>", user.Email)
			}
			fmt.Fprintln(app.out)
			return nil
		}),
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Inspect the stored session without contacting the server",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			status, err := app.client.Status(commandContext(command))
			if err != nil {
				return err
			}
			writer := newTableWriter(app.out)
			fmt.Fprintf(writer, "api\t%s\n", app.client.BaseURL())
			fmt.Fprintf(writer, "authenticated\t%t\n", status.Authenticated)
			fmt.Fprintf(writer, "refresh credential\t%t\n", status.HasRefresh)
			if status.TokenReadable {
				fmt.Fprintf(writer, "subject\t%s\n", status.Token.Subject)
				if !status.Token.ExpiresAt.IsZero() {
					fmt.Fprintf(writer, "access expires\t%s\n", status.Token.ExpiresAt.Format(time.RFC3339))
				}
				fmt.Fprintf(writer, "access expired\t%t\n", status.Expired)
			}
			return writer.Flush()
		}),
	}
}

func newRegisterCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "register",
		Short:   "Create an account",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			registration := session.Registration{}
			registration.Username, _ = command.Flags().GetString("username")
			registration.Email, _ = command.Flags().GetString("email")
			registration.Password, _ = command.Flags().GetString("password")
			registration.FirstName, _ = command.Flags().GetString("first-name")
			registration.LastName, _ = command.Flags().GetString("last-name")
			if strings.TrimSpace(registration.Username) == "" {
				return errors.New("register: --username is required")
			}
			if registration.Password == "" {
				prompted, err := promptSecret(command, "Password: ")
				if err != nil {
					return err
				}
				registration.Password = prompted
			}
			if err := app.client.Register(commandContext(command), registration); err != nil {
				return err
			}
			fmt.Fprintf(app.out, "registered %s; run `todoctl login --username %s`\n", registration.Username, registration.Username)
			return nil
		}),
	}
	command.Flags().String("username", "", "Account username")
	command.Flags().String("email", "", "Email address")
	command.Flags().String("password", "", "Account password; prompted on stdin when omitted")
	command.Flags().String("first-name", "", "First name")
	command.Flags().String("last-name", "", "Last name")
	return command
}

func promptSecret(command *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(command.ErrOrStderr(), prompt)
	line, err := bufio.NewReader(command.InOrStdin()).ReadString('\n')
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		if err != nil {
			return "", fmt.Errorf("%w: %v", errEmptyPassword, err)
		}
		return "", errEmptyPassword
	}
	return secret, nil
}
