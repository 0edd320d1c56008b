package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/app"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/organization"
)

// Manifest lists organizations to provision.
type Manifest struct {
	Organizations []ManifestEntry `yaml:"organizations"`
}

// ManifestEntry is one organization. PasswordEnv names an environment
// variable holding the password when Password is empty.
type ManifestEntry struct {
	Name        string `yaml:"name"`
	AdminEmail  string `yaml:"admin_email"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
}

// ApplyResult is the outcome for one manifest entry.
type ApplyResult struct {
	Name    string
	Created bool
	Err     error
}

// ParseManifest decodes and validates a manifest. Passwords given through
// PasswordEnv are resolved with getenv.
func ParseManifest(r io.Reader, getenv func(string) string) ([]organization.CreateRequest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	seen := make(map[string]bool, len(m.Organizations))
	reqs := make([]organization.CreateRequest, 0, len(m.Organizations))
	for i, e := range m.Organizations {
		password := e.Password
		if password == "" && e.PasswordEnv != "" {
			password = getenv(e.PasswordEnv)
		}
		req := organization.CreateRequest{Name: e.Name, Email: e.AdminEmail, Password: password}
		if err := validate.Struct(req); err != nil {
			return nil, fmt.Errorf("entry %d (%q): %w", i, e.Name, err)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("entry %d: duplicate organization %q", i, e.Name)
		}
		seen[e.Name] = true
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Apply creates every organization in reqs that does not exist yet, at most
// concurrency at a time. Existing names are skipped.
func Apply(ctx context.Context, m organization.ManagerInterface, reqs []organization.CreateRequest, concurrency int) []ApplyResult {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]ApplyResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res := ApplyResult{Name: req.Name}
			existing, err := m.LookupByName(gctx, req.Name)
			switch {
			case err != nil:
				res.Err = err
			case existing != nil:
			default:
				_, err := m.Create(gctx, req.Name, req.Email, req.Password)
				if errors.Is(err, organization.ErrAlreadyExists) {
					err = nil
				} else {
					res.Created = err == nil
				}
				res.Err = err
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()
	return results
}

func newApplyCommand(flags *globalFlags) *cobra.Command {
	var file string
	var concurrency int
	cmd := &cobra.Command{
		Use:   "apply -f manifest.yaml",
		Short: "Create the organizations listed in a manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			reqs, err := ParseManifest(f, os.Getenv)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), flags, func(a *app.App) error {
				failed := 0
				for _, res := range Apply(cmd.Context(), a.Manager, reqs, concurrency) {
					switch {
					case res.Err != nil:
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "failed  %s: %v\n", res.Name, res.Err)
					case res.Created:
						fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", res.Name)
					default:
						fmt.Fprintf(cmd.OutOrStdout(), "exists  %s\n", res.Name)
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d organizations failed", failed, len(reqs))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "manifest file")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "organizations created in parallel")
	cmd.MarkFlagRequired("file")
	return cmd
}
