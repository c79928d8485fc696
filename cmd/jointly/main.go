package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jointly/internal/authclient"
	"jointly/internal/config"
	"jointly/internal/db"
	"jointly/internal/domain"
	"jointly/internal/engine"
	"jointly/internal/migrate"
	"jointly/internal/server"
	"jointly/internal/store"
	"jointly/internal/wizard"
)

var rootCmd = &cobra.Command{
	Use:   "jointly",
	Short: "Jointly lead-funnel CLI",
	Long: `Jointly connects landowners with builders through guided intakes.
- Workspace: a .jointly directory holding the local database.
- Wizards: step-by-step intakes per role (landowner, builder) and category
  (contract-construction, joint-venture, interior, reconstruction).
- Submissions: published intakes, append-only and role-scoped.
- Auth: accounts live on the external backend; 'jointly login' stores the
  token pair in the workspace.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("JOINTLY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(intakeCmd())
	rootCmd.AddCommand(submissionsCmd())
	rootCmd.AddCommand(feasibilityCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default jointly.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			secret := cfg.Auth.JWTSecret
			if secret == "" {
				secret = os.Getenv("JOINTLY_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("jwt secret required: set auth.jwt_secret or JOINTLY_JWT_SECRET")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: server.AuthConfig{JWTSecret: secret}})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Jointly API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a local bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.ValidRole(role) {
				return fmt.Errorf("--role must be landowner or builder")
			}
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			secret := cfg.Auth.JWTSecret
			if secret == "" {
				secret = os.Getenv("JOINTLY_JWT_SECRET")
			}
			token, err := server.MintToken(secret, viper.GetString("actor-id"), domain.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role claim (landowner|builder)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in against the auth backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, c *authclient.Client, s store.Store) error {
				resp, err := c.Login(ctx, email, password)
				if err != nil {
					return err
				}
				return saveSession(ctx, s, resp)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func registerCmd() *cobra.Command {
	var name, email, password, role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on the auth backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			backendRole := authclient.BackendRoleLandowner
			if role == string(domain.RoleBuilder) {
				backendRole = authclient.BackendRoleProfessional
			} else if role != string(domain.RoleLandowner) {
				return fmt.Errorf("--role must be landowner or builder")
			}
			return withBackend(cmd.Context(), func(ctx context.Context, c *authclient.Client, s store.Store) error {
				resp, err := c.Register(ctx, name, email, password, backendRole)
				if err != nil {
					return err
				}
				return saveSession(ctx, s, resp)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&role, "role", "landowner", "funnel role (landowner|builder)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rotate the stored token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, c *authclient.Client, s store.Store) error {
				sess, err := s.LoadAuthSession(ctx)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("not logged in")
					}
					return err
				}
				resp, err := c.Refresh(ctx, sess.RefreshToken)
				if err != nil {
					return err
				}
				return saveSession(ctx, s, resp)
			})
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				if err := s.ClearAuthSession(ctx); err != nil {
					return err
				}
				fmt.Println("logged out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, c *authclient.Client, s store.Store) error {
				sess, err := s.LoadAuthSession(ctx)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("not logged in")
					}
					return err
				}
				if remote {
					user, err := c.Me(ctx, sess.AccessToken)
					if err != nil {
						return err
					}
					return printJSONOrIndent(user.User())
				}
				return printJSONOrIndent(sess.User)
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "verify against the auth backend")
	return cmd
}

func intakeCmd() *cobra.Command {
	var role, category string
	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Walk a wizard interactively",
		Long: `Walks the chosen wizard step by step. At each step enter answers as
"field: value" lines; an empty line continues to the next step. Values are
parsed as JSON when possible, otherwise taken as strings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sv, err := e.StartSession(role, category)
				if err != nil {
					return err
				}
				for field, options := range wizard.Catalog(domain.Role(role), domain.Category(category)) {
					fmt.Printf("options %s: %s\n", field, strings.Join(options, " | "))
				}
				reader := bufio.NewScanner(os.Stdin)
				for {
					fmt.Printf("\n[%s] step %s (flow: %s)\n", category, sv.Step, strings.Join(sv.Steps, " > "))
					fmt.Println("  enter answers as 'field: value', empty line to continue")
					answers := wizard.Answers{}
					eof := false
					for {
						if !reader.Scan() {
							eof = true
							break
						}
						line := strings.TrimSpace(reader.Text())
						if line == "" {
							break
						}
						key, value, found := strings.Cut(line, ":")
						if !found {
							fmt.Println("  expected 'field: value'")
							continue
						}
						answers[strings.TrimSpace(key)] = parseValue(strings.TrimSpace(value))
					}
					if len(answers) > 0 {
						if sv, err = e.SetAnswers(sv.ID, answers); err != nil {
							return err
						}
					}
					if eof && len(answers) == 0 {
						return fmt.Errorf("input closed before the intake finished")
					}
					last := len(sv.Steps) >= 2 && sv.Step == sv.Steps[len(sv.Steps)-2]
					if last {
						rec, err := e.Submit(ctx, sv.ID, viper.GetString("actor-id"))
						if errors.Is(err, wizard.ErrStepIncomplete) {
							fmt.Println("  required fields missing, stay on this step")
							continue
						}
						if err != nil {
							return err
						}
						fmt.Println("published submission", rec.ID)
						return nil
					}
					sv, err = e.Continue(sv.ID)
					if errors.Is(err, wizard.ErrStepIncomplete) {
						fmt.Println("  required fields missing, stay on this step")
						continue
					}
					if err != nil {
						return err
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "landowner", "funnel role")
	cmd.Flags().StringVar(&category, "category", "", "intake category")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func submissionsCmd() *cobra.Command {
	sub := &cobra.Command{Use: "submissions", Short: "Browse published submissions"}
	sub.AddCommand(submissionsListCmd())
	return sub
}

func submissionsListCmd() *cobra.Command {
	var role, category, verified string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a role's submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var verifiedFilter *bool
				switch verified {
				case "", "all":
				case "yes":
					v := true
					verifiedFilter = &v
				case "no":
					v := false
					verifiedFilter = &v
				default:
					return fmt.Errorf("--verified must be yes, no, or all")
				}
				items, err := e.FilterSubmissions(ctx, role, category, verifiedFilter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSONOrIndent(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TYPE", "VERIFIED", "SUBMITTED AT"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.ID, rec.Type, rec.Verified(), rec.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "landowner", "funnel role")
	cmd.Flags().StringVar(&category, "type", "", "filter by category")
	cmd.Flags().StringVar(&verified, "verified", "all", "filter by verification (yes|no|all)")
	return cmd
}

func feasibilityCmd() *cobra.Command {
	var dimensions, roadWidth string
	cmd := &cobra.Command{
		Use:   "feasibility",
		Short: "Estimate buildable area for a plot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := e.FeasibilityPreview(dimensions, roadWidth)
				if f == nil {
					return fmt.Errorf("dimensions %q not understood; use WxH in feet", dimensions)
				}
				return printJSONOrIndent(f)
			})
		},
	}
	cmd.Flags().StringVar(&dimensions, "dimensions", "", "plot dimensions in feet, e.g. 30×40")
	cmd.Flags().StringVar(&roadWidth, "road-width", "", "abutting road width in feet")
	_ = cmd.MarkFlagRequired("dimensions")
	return cmd
}

func apikeyCmd() *cobra.Command {
	root := &cobra.Command{Use: "apikey", Short: "Manage workspace API keys"}

	var name, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.ValidRole(role) {
				return fmt.Errorf("--role must be landowner or builder")
			}
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				raw := "jk_" + strings.ReplaceAll(newID(), "-", "")
				key := domain.APIKey{
					ID:      newID(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					Role:    domain.Role(role),
					KeyHash: store.HashAPIKey(raw),
				}
				if err := s.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Println("key:", raw)
				fmt.Println("id: ", key.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	create.Flags().StringVar(&role, "role", "", "role the key acts as (landowner|builder)")
	_ = create.MarkFlagRequired("role")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				keys, err := s.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				for i := range keys {
					keys[i].KeyHash = "" // never print hashes
				}
				return printJSONOrIndent(keys)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				return s.DeleteAPIKey(ctx, args[0])
			})
		},
	}

	root.AddCommand(create, list, del)
	return root
}

func logCmd() *cobra.Command {
	root := &cobra.Command{Use: "log", Short: "Inspect the activity log"}
	var after int64
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Store.ListEventsAfter(ctx, after, limit)
				if err != nil {
					return err
				}
				return printJSONOrIndent(events)
			})
		},
	}
	tail.Flags().Int64Var(&after, "after", 0, "only events after this id")
	tail.Flags().IntVar(&limit, "limit", 50, "maximum events")
	root.AddCommand(tail)
	return root
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withStore(ctx context.Context, fn func(context.Context, store.Store) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, store.Store{DB: conn})
}

func withBackend(ctx context.Context, fn func(context.Context, *authclient.Client, store.Store) error) error {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	return withStore(ctx, func(ctx context.Context, s store.Store) error {
		return fn(ctx, authclient.New(cfg.Auth.BackendURL), s)
	})
}

func saveSession(ctx context.Context, s store.Store, resp authclient.TokenResponse) error {
	sess := domain.AuthSession{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User:         resp.User.User(),
	}
	if err := s.SaveAuthSession(ctx, sess); err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%s)\n", sess.User.Name, sess.User.Role)
	return nil
}

func printJSONOrIndent(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newID() string {
	return uuid.NewString()
}
