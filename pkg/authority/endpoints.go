package authority

import (
	"fmt"

	"github.com/ithesk/firmadgii/pkg/ecf"
)

// Environment base URLs for the authority's service platform.
var envBases = map[ecf.Environment]string{
	ecf.EnvTest: "https://ecf.dgii.gov.do/testecf",
	ecf.EnvCert: "https://ecf.dgii.gov.do/certecf",
	ecf.EnvProd: "https://ecf.dgii.gov.do/ecf",
}

// Service paths relative to the environment base. Each authority
// operation lives under its own service segment.
const (
	pathSeed         = "/autenticacion/api/autenticacion/semilla"
	pathValidateSeed = "/autenticacion/api/autenticacion/validarsemilla"
	pathSubmitDoc    = "/recepcion/api/facturaselectronicas"
	pathSubmitFC     = "/recepcionfc/api/recepcion/ecf"
	pathApproval     = "/aprobacioncomercial/api/aprobacioncomercial"
	pathVoidRange    = "/anulacionrangos/api/operaciones/anularrango"
	pathStatusTrack  = "/consultaresultado/api/consultas/estado"
	pathTrackIDs     = "/consultatrackids/api/trackids/consulta"
	pathValidity     = "/consultaestado/api/consultas/estado"
	pathDirectory    = "/consultadirectorio/api/consultas/obtenerdirectoriopordgii"
)

func baseURL(env ecf.Environment) (string, error) {
	base, ok := envBases[env]
	if !ok {
		return "", fmt.Errorf("unknown environment %q", env)
	}
	return base, nil
}
