package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rushteam/shelfrec/config"
	_ "github.com/rushteam/shelfrec/config/builders"
	"github.com/rushteam/shelfrec/pkg/logging"
)

const rootLongDesc string = `shelfrec is a hybrid book recommendation engine.

It blends content/KYC embeddings, collaborative-filtering vectors and
graph-propagated vectors into one ranked list, and ships the offline
trainers and evaluation harness that feed it.

  shelfrec recommend --user <id>   Recommend books for a user
  shelfrec train cf                Train ALS collaborative-filtering vectors
  shelfrec train graph             Train graph-propagated book vectors
  shelfrec embed                   Generate missing content and KYC embeddings
  shelfrec evaluate                Run the offline evaluation`

const rootShortDesc string = "shelfrec - hybrid book recommendations"

// viperKeyAnnotation 标记 flag 对应的配置 key，PersistentPreRunE 中统一绑定到 viper
const viperKeyAnnotation = "shelfrec/viper-key"

// rootCommander 持有所有子命令共享的配置
type rootCommander struct {
	configPath string
	cfg        *config.AppConfig
}

func newRootCmd() *cobra.Command {
	root := &rootCommander{}

	cmd := &cobra.Command{
		Use:          "shelfrec",
		Short:        rootShortDesc,
		Long:         rootLongDesc,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return root.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&root.configPath, "config", "c", "", "Path to config file (default ./shelfrec.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "Log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "json", "Log format: json or console")
	bindFlag(cmd.PersistentFlags(), "log-level", "log.level")
	bindFlag(cmd.PersistentFlags(), "log-format", "log.format")

	cmd.AddCommand(newRecommendCmd(root))
	cmd.AddCommand(newTrainCmd(root))
	cmd.AddCommand(newEmbedCmd(root))
	cmd.AddCommand(newEvaluateCmd(root))

	return cmd
}

// load 读取配置文件与环境变量，命令行上显式设置的 flag 优先
func (r *rootCommander) load(cmd *cobra.Command) error {
	v, err := config.InitViper(r.configPath)
	if err != nil {
		return err
	}
	if err := bindAnnotated(v, cmd.Flags()); err != nil {
		return err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	r.cfg = cfg

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return nil
}

func bindFlag(flags *pflag.FlagSet, name, key string) {
	_ = flags.SetAnnotation(name, viperKeyAnnotation, []string{key})
}

// bindAnnotated 只绑定被显式设置的 flag，未设置时保留配置文件或环境变量的值
func bindAnnotated(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		keys, ok := f.Annotations[viperKeyAnnotation]
		if !ok || len(keys) == 0 || !f.Changed || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(keys[0], f)
	})
	return bindErr
}
