// SPDX-License-Identifier: Apache-2.0

package catalog

import "github.com/rafaelmp/comexflow/internal/domain"

// Builtin returns the product's standard import/export workflow definitions.
// They are registered at startup before any persisted definitions are loaded.
func Builtin() []domain.WorkflowDefinition {
	return []domain.WorkflowDefinition{
		{
			ID:            "purchase-order-flow",
			Name:          "Fluxo de Pedido de Compra",
			Description:   "Workflow para criação e aprovação de pedidos de compra",
			InitialStepID: "po-creation",
			Steps: []domain.ApprovalStep{
				{
					ID:           "po-creation",
					Name:         "Criação do Pedido",
					Description:  "Criação do pedido de compra com detalhes de produtos e fornecedores",
					RequiredRole: "comprador",
					NextStepID:   "po-approval",
				},
				{
					ID:             "po-approval",
					Name:           "Aprovação do Pedido",
					Description:    "Aprovação do pedido pelo gerente de compras",
					RequiredRole:   "gerente_compras",
					PreviousStepID: "po-creation",
					NextStepID:     "po-send",
				},
				{
					ID:             "po-send",
					Name:           "Envio ao Fornecedor",
					Description:    "Envio do pedido aprovado ao fornecedor",
					RequiredRole:   "comprador",
					PreviousStepID: "po-approval",
				},
			},
		},
		{
			ID:            "documents-validation-flow",
			Name:          "Fluxo de Validação de Documentos",
			Description:   "Workflow para validação e processamento de documentos de importação",
			InitialStepID: "doc-receive",
			Steps: []domain.ApprovalStep{
				{
					ID:           "doc-receive",
					Name:         "Recebimento de Documentos",
					Description:  "Recebimento e cadastro inicial de documentos",
					RequiredRole: "administrativo_importacao",
					NextStepID:   "doc-validation",
				},
				{
					ID:             "doc-validation",
					Name:           "Validação de Documentos",
					Description:    "Validação regulatória de documentos",
					RequiredRole:   "analista_importacao",
					PreviousStepID: "doc-receive",
					NextStepID:     "doc-customs",
				},
				{
					ID:             "doc-customs",
					Name:           "Liberação para Despacho",
					Description:    "Liberação de documentos para o despacho aduaneiro",
					RequiredRole:   "despachante_aduaneiro",
					PreviousStepID: "doc-validation",
				},
			},
		},
		{
			ID:            "customs-release-flow",
			Name:          "Fluxo de Liberação Aduaneira",
			Description:   "Workflow para gestão de despacho e liberação aduaneira",
			InitialStepID: "customs-process",
			Steps: []domain.ApprovalStep{
				{
					ID:           "customs-process",
					Name:         "Processamento Aduaneiro",
					Description:  "Encaminhamento para processamento na Receita Federal",
					RequiredRole: "despachante_aduaneiro",
					NextStepID:   "customs-validation",
				},
				{
					ID:             "customs-validation",
					Name:           "Validação de Despacho",
					Description:    "Validação do despacho pelo analista de importação",
					RequiredRole:   "analista_importacao",
					PreviousStepID: "customs-process",
					NextStepID:     "logistics-release",
				},
				{
					ID:             "logistics-release",
					Name:           "Liberação para Logística",
					Description:    "Liberação da carga para transporte interno",
					RequiredRole:   "coordenador_logistico",
					PreviousStepID: "customs-validation",
				},
			},
		},
		{
			ID:            "payment-flow",
			Name:          "Fluxo de Pagamentos",
			Description:   "Workflow para aprovação e execução de pagamentos",
			InitialStepID: "payment-request",
			Steps: []domain.ApprovalStep{
				{
					ID:           "payment-request",
					Name:         "Solicitação de Pagamento",
					Description:  "Solicitação de pagamento ao fornecedor",
					RequiredRole: "financeiro",
					NextStepID:   "payment-approval",
				},
				{
					ID:             "payment-approval",
					Name:           "Aprovação de Pagamento",
					Description:    "Aprovação do pagamento pelo gerente financeiro",
					RequiredRole:   "gerente_financeiro",
					PreviousStepID: "payment-request",
					NextStepID:     "payment-execution",
				},
				{
					ID:             "payment-execution",
					Name:           "Execução do Pagamento",
					Description:    "Execução da transação financeira",
					RequiredRole:   "financeiro",
					PreviousStepID: "payment-approval",
				},
			},
		},
		{
			ID:            "cargo-reception-flow",
			Name:          "Fluxo de Recebimento de Carga",
			Description:   "Workflow para confirmação de entrada e armazenagem",
			InitialStepID: "cargo-arrival",
			Steps: []domain.ApprovalStep{
				{
					ID:           "cargo-arrival",
					Name:         "Chegada da Carga",
					Description:  "Confirmação da chegada física da carga",
					RequiredRole: "operador_armazem",
					NextStepID:   "cargo-inspection",
				},
				{
					ID:             "cargo-inspection",
					Name:           "Inspeção da Carga",
					Description:    "Inspeção detalhada da carga recebida",
					RequiredRole:   "coordenador_logistico",
					PreviousStepID: "cargo-arrival",
					NextStepID:     "cargo-storage",
				},
				{
					ID:             "cargo-storage",
					Name:           "Armazenamento da Carga",
					Description:    "Confirmação do armazenamento apropriado",
					RequiredRole:   "operador_armazem",
					PreviousStepID: "cargo-inspection",
				},
			},
		},
	}
}

// RegisterBuiltin loads the standard definitions into the catalog. A
// validation failure here is a programming error and must halt startup.
func RegisterBuiltin(c *Catalog) error {
	for _, def := range Builtin() {
		if err := c.Register(def); err != nil {
			return err
		}
	}
	return nil
}
