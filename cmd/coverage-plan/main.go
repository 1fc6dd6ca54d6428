// 覆盖计划命令：读取 ward 边界与项目名册，输出区域覆盖计划 JSON 与带标记的 ward 图层
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"tz-rubeho/internal/boundary"
	"tz-rubeho/internal/config"
	"tz-rubeho/internal/coverage"
	"tz-rubeho/internal/geo"
	"tz-rubeho/internal/logger"
	"tz-rubeho/internal/metrics"
	"tz-rubeho/internal/migrate"
	"tz-rubeho/internal/roster"
	"tz-rubeho/internal/store"
	"tz-rubeho/internal/utils"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load(".env")
	logger.Setup()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	wards      string
	roster     string
	sheet      string
	out        string
	bufferM    float64
	nearbyKm   float64
	archive    bool
}

func rootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "coverage-plan",
		Short:        "Build the region coverage plan from ward boundaries and the program roster",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings(cmd, o)
			if err != nil {
				return err
			}
			err = runPlan(cmd.Context(), s, o.archive, cmd.OutOrStdout())
			result := "ok"
			if err != nil {
				result = "error"
				logger.L().Error("plan_error", "err", err)
			}
			metrics.PlanRunsTotal.WithLabelValues(result).Inc()
			pushMetrics(cmd.Context())
			return err
		},
	}
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "Settings file (YAML); defaults to $CONFIG_FILE or "+config.DefaultFile)
	f.StringVar(&o.wards, "wards", "", "Ward boundaries: shapefile directory, .shp or .geojson")
	f.StringVar(&o.roster, "roster", "", "Program roster workbook (.xlsx)")
	f.StringVar(&o.sheet, "sheet", "", "Roster sheet name")
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "Output directory for the plan and layer")
	cmd.Flags().Float64Var(&o.bufferM, "buffer", 0, "Adjacency buffer distance in metres")
	cmd.Flags().Float64Var(&o.nearbyKm, "nearby-km", 0, "Distance threshold in km for nearby regions")
	cmd.Flags().BoolVar(&o.archive, "archive", false, "Record the run in the Postgres archive (PG_* env)")

	cmd.AddCommand(districtsCmd(&o))
	return cmd
}

// settings：配置文件与环境变量之上再叠加显式传入的命令行参数
func settings(cmd *cobra.Command, o options) (config.Settings, error) {
	s, err := config.Load(o.configPath)
	if err != nil {
		return s, err
	}
	flags := cmd.Flags()
	if flags.Changed("wards") {
		s.WardsPath = o.wards
	}
	if flags.Changed("roster") {
		s.RosterPath = o.roster
	}
	if flags.Changed("sheet") {
		s.RosterSheet = o.sheet
	}
	if flags.Changed("out") {
		s.ProcessedDir = o.out
	}
	if flags.Changed("buffer") {
		s.BufferDistanceM = o.bufferM
	}
	if flags.Changed("nearby-km") {
		s.NearbyThresholdKm = o.nearbyKm
	}
	return s, s.Validate()
}

func loadInputs(s config.Settings) ([]boundary.Ward, []roster.ProgramRecord, error) {
	wards, err := boundary.Load(s.WardsPath)
	if err != nil {
		return nil, nil, err
	}
	recs, err := roster.Load(s.RosterPath, s.RosterSheet)
	if err != nil {
		return nil, nil, err
	}
	return wards, recs, nil
}

func params(s config.Settings) coverage.Params {
	return coverage.Params{
		BufferM:            s.BufferDistanceM,
		NearbyKm:           s.NearbyThresholdKm,
		UTM:                geo.UTM{Zone: s.UTMZone, South: s.UTMSouth},
		EPSG:               s.EPSG(),
		GridLargeM:         s.GridSizeLargeM,
		GridSmallM:         s.GridSizeSmallM,
		GridCellWarnLimit:  s.GridCellWarnLimit,
		ProgramRegions:     s.ProgramRegions,
		ExcludeWardPattern: s.ExcludeWardPattern,
	}
}

func runPlan(ctx context.Context, s config.Settings, archive bool, out io.Writer) error {
	wards, recs, err := loadInputs(s)
	if err != nil {
		return err
	}
	res, err := coverage.Build(wards, recs, params(s))
	if err != nil {
		return err
	}
	planPath, layerPath, err := coverage.WriteOutputs(s.ProcessedDir, res)
	if err != nil {
		return err
	}

	p := res.Plan
	fmt.Fprintf(out, "Program regions:  %s\n", strings.Join(p.ProgramRegions, ", "))
	fmt.Fprintf(out, "Adjacent regions: %s\n", strings.Join(p.AdjacentRegions, ", "))
	fmt.Fprintf(out, "Treatment wards:  %d/%d matched (%.1f%%)\n",
		p.TreatmentWards.MatchedTreatmentWards, p.TreatmentWards.TotalTreatmentLocations, p.TreatmentWards.MatchRate*100)
	if p.GridEstimate.LargeGridWarn {
		fmt.Fprintf(out, "Warning: %.0f m grid needs %.0f cells\n", p.GridEstimate.LargeCellM, p.GridEstimate.LargeCells)
	}
	fmt.Fprintf(out, "Wrote %s\nWrote %s\n", planPath, layerPath)

	if !archive {
		return nil
	}
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("archive schema: %w", err)
	}
	id, err := store.AttachDB(db).SaveRun(ctx, &res.Plan)
	if err != nil {
		return err
	}
	logger.L().Info("plan_archived", "id", id)
	return nil
}

// pushMetrics：设置 PUSHGATEWAY_URL 时推送本次运行计数；推送失败不影响退出码
func pushMetrics(ctx context.Context) {
	gw := strings.TrimSpace(os.Getenv("PUSHGATEWAY_URL"))
	if gw == "" {
		return
	}
	if err := metrics.Push(ctx, gw, "coverage_plan", metrics.PlanRunsTotal); err != nil {
		logger.L().Warn("metrics_push_failed", "gateway", gw, "err", err)
		return
	}
	logger.L().Info("metrics_pushed", "gateway", gw)
}

func districtsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "districts",
		Short: "Print the district to region mapping for roster districts",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings(cmd, *o)
			if err != nil {
				return err
			}
			wards, recs, err := loadInputs(s)
			if err != nil {
				return err
			}
			printDistricts(cmd.OutOrStdout(), wards, recs)
			return nil
		},
	}
}

func printDistricts(w io.Writer, wards []boundary.Ward, recs []roster.ProgramRecord) {
	mapping := boundary.DistrictRegions(wards)
	var unmapped []string
	for _, d := range roster.Districts(recs) {
		if r, ok := boundary.RegionOf(mapping, d); ok {
			fmt.Fprintf(w, "%s -> %s\n", d, r)
		} else {
			unmapped = append(unmapped, d)
		}
	}
	if len(unmapped) > 0 {
		fmt.Fprintf(w, "Unmapped: %s\n", strings.Join(unmapped, ", "))
	}
}
