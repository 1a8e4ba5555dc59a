package main

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Travis-Britz/ddns/v2"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces [name...]",
	Short: "Lists interface addresses and which ones the interface resolver would use",
	Run: func(cmd *cobra.Command, args []string) {
		helper := CmdHelper{}
		logger := helper.GetLogger()

		ifaces, err := net.Interfaces()
		if err != nil {
			logger.Fatal("failed to list interfaces", zap.Error(err))
		}
		if len(args) > 0 {
			ifaces = lo.Filter(ifaces, func(i net.Interface, _ int) bool { return lo.Contains(args, i.Name) })
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "INTERFACE\tADDRESS\tFAMILY\tUSABLE")
		for _, iface := range ifaces {
			addrs, err := iface.Addrs()
			if err != nil {
				logger.Warn("failed to get addresses for interface", zap.String("interface", iface.Name), zap.Error(err))
				continue
			}
			usable, _ := ddns.InterfaceAddrs(iface.Name)
			for _, addr := range addrs {
				// addr: ip+net:192.168.86.253/24
				// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
				prefix, err := netip.ParsePrefix(addr.String())
				if err != nil {
					fmt.Fprintf(w, "%s\t%s\t-\tfalse\n", iface.Name, addr)
					continue
				}
				a := prefix.Addr()
				family := ddns.IPv4
				if ddns.IPv6.Matches(a) {
					family = ddns.IPv6
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", iface.Name, prefix, family, lo.Contains(usable, a))
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}
