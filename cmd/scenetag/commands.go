package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/scenetag/internal/annotation"
	"github.com/Faultbox/scenetag/internal/config"
	"github.com/Faultbox/scenetag/internal/highlight"
	"github.com/Faultbox/scenetag/internal/instance"
	"github.com/Faultbox/scenetag/internal/logger"
	"github.com/Faultbox/scenetag/internal/mesh"
	"github.com/Faultbox/scenetag/internal/resources"
	"github.com/Faultbox/scenetag/internal/selection"
	"github.com/Faultbox/scenetag/internal/server"
	"github.com/Faultbox/scenetag/internal/storage"
	"github.com/Faultbox/scenetag/pkg/formats"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the annotation server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogging(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()

			res, err := resources.NewManager(cfg.Data.ModelsDir)
			if err != nil {
				return err
			}
			defer res.Close()
			if cfg.Data.Watch {
				if err := res.Watch(); err != nil {
					logger.Warn("watching models dir failed", zap.Error(err))
				}
			}

			store, err := storage.Open(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening annotation storage: %w", err)
			}
			defer store.Close()

			logger.Info("scenetag starting",
				zap.String("version", version),
				zap.String("models", res.Root()),
				zap.String("backend", cfg.Annotations.Backend))
			return server.New(cfg, res, store).ListenAndServe(ctx)
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <mesh>",
		Short: "Display mesh and instance mask information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := resources.NewManager(cfg.Data.ModelsDir)
			if err != nil {
				return err
			}
			defer res.Close()

			scene, err := res.LoadScene(cmd.Context(), args[0], server.SessionOptions(cfg).Scene)
			if err != nil {
				return err
			}
			m := scene.Mesh
			size := m.Bounds.Size()
			center := m.Bounds.Center()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Mesh:       %s\n", m.Name)
			fmt.Fprintf(out, "Vertices:   %d\n", m.VertexCount())
			fmt.Fprintf(out, "Triangles:  %d\n", m.TriangleCount())
			fmt.Fprintf(out, "Colors:     %t\n", m.HasColors())
			fmt.Fprintf(out, "Bounds Min: (%.3f, %.3f, %.3f)\n", m.Bounds.Min.X, m.Bounds.Min.Y, m.Bounds.Min.Z)
			fmt.Fprintf(out, "Bounds Max: (%.3f, %.3f, %.3f)\n", m.Bounds.Max.X, m.Bounds.Max.Y, m.Bounds.Max.Z)
			fmt.Fprintf(out, "Dimensions: %.3f x %.3f x %.3f\n", size.X, size.Y, size.Z)
			fmt.Fprintf(out, "Center:     (%.3f, %.3f, %.3f)\n", center.X, center.Y, center.Z)
			fmt.Fprintln(out)

			if scene.Index == nil {
				fmt.Fprintf(out, "Instances:  unavailable (%v)\n", scene.MaskErr)
				return nil
			}
			if scene.Grid {
				fmt.Fprintln(out, "Instances:  placeholder grid")
			}
			if scene.Index.Mismatched() {
				fmt.Fprintf(out, "Warning:    mask has %d entries for %d vertices\n", scene.Index.Len(), m.VertexCount())
			}
			counts := scene.Index.Counts()
			ids := make([]instance.ID, 0, len(counts))
			for id := range counts {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			fmt.Fprintf(out, "Instances:  %d\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %-8d %d vertices\n", id, counts[id])
			}
			return nil
		},
	}
}

func newMaskCmd() *cobra.Command {
	var gridSize int
	var outPath string

	cmd := &cobra.Command{
		Use:   "mask <mesh>",
		Short: "Write a placeholder grid instance mask for a mesh",
		Long:  "Assign every vertex to a cell of an N x N x N grid over the mesh bounds and write the ids as an .npy mask.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := resources.NewManager(cfg.Data.ModelsDir)
			if err != nil {
				return err
			}
			defer res.Close()

			data, err := res.Load(args[0])
			if err != nil {
				return err
			}
			ply, err := formats.ParsePLY(data)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			m, err := mesh.Load(args[0], mesh.FromPLY(ply))
			if err != nil {
				return err
			}

			idx := instance.NewIndex(instance.AssignGridIDs(m, gridSize), m.VertexCount())
			if outPath == "" {
				outPath, err = res.Resolve(resources.MaskName(args[0], cfg.Data.MaskExt))
				if err != nil {
					return err
				}
			}
			if err := formats.WriteNPYFile(outPath, idx.Int64s()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d ids (%d instances) to %s\n", idx.Len(), idx.Distinct(), outPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&gridSize, "grid", 3, "Grid cells per axis")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output path (default: mask next to the mesh)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var rawIDs string
	var outPath string

	cmd := &cobra.Command{
		Use:   "export <mesh>",
		Short: "Export the highlight of some instances as GLB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := server.ParseIDs(rawIDs)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return fmt.Errorf("no instance ids given")
			}

			res, err := resources.NewManager(cfg.Data.ModelsDir)
			if err != nil {
				return err
			}
			defer res.Close()

			scene, err := res.LoadScene(cmd.Context(), args[0], server.SessionOptions(cfg).Scene)
			if err != nil {
				return err
			}
			if scene.Index == nil {
				return fmt.Errorf("%s has no instance data: %w", args[0], scene.MaskErr)
			}
			h := highlight.Rebuild(scene.Mesh, scene.Index, selection.New(ids...))
			if h == nil {
				return fmt.Errorf("instances %v not found in %s", ids, args[0])
			}

			if outPath == "" {
				outPath = resources.BaseName(args[0]) + "_highlight.glb"
			}
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := h.WriteGLB(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d triangles to %s\n", h.TriangleCount(), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&rawIDs, "ids", "", "Comma separated instance ids")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output path (default: <mesh>_highlight.glb)")
	return cmd
}

func newPullCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "pull <mesh>",
		Short: "Fetch the annotation collections of a mesh from a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := annotation.NewHTTPClient(cfg.Annotations.Endpoint, timeout)
			opts := server.SessionOptions(cfg)
			list, err := annotation.Reload(cmd.Context(), client,
				resources.AnnotationName(args[0]), opts.NameFragment, opts.Collections)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	return cmd
}

func newPushCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "push <mesh> <file>",
		Short: "Submit an annotation list for a mesh to a server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var list []annotation.Annotation
			if err := json.Unmarshal(data, &list); err != nil {
				return fmt.Errorf("parsing %s: %w", args[1], err)
			}

			client := annotation.NewHTTPClient(cfg.Annotations.Endpoint, timeout)
			res, err := annotation.Save(cmd.Context(), client, args[0], list)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	return cmd
}

func newConfigCmd() *cobra.Command {
	var write bool
	var path string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration or write it to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !write {
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if path == "" {
				if err := cfg.Save(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
				return nil
			}
			if err := cfg.SaveTo(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "Write the configuration instead of printing it")
	cmd.Flags().StringVarP(&path, "out", "o", "", "Output path (default: user config dir)")
	return cmd
}
